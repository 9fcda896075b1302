package server

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/driftbox/driftbox/internal/server/auth"
	"github.com/driftbox/driftbox/internal/server/chunk"
	"github.com/driftbox/driftbox/internal/server/content"
	"github.com/driftbox/driftbox/internal/server/handlers/ws"
	"github.com/driftbox/driftbox/internal/server/metadata"
	"github.com/driftbox/driftbox/internal/server/reconcile"
	"github.com/driftbox/driftbox/internal/server/users"
)

type Services struct {
	Users     *users.Store
	Auth      *auth.AuthService
	Metadata  *metadata.Store
	Content   *content.Store
	Reconcile *reconcile.Service
	Chunks    *chunk.Manager
	Hub       *ws.WebsocketHub
}

func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	userStore, err := users.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("create user store: %w", err)
	}

	metaStore, err := metadata.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("create metadata store: %w", err)
	}

	contentStore, err := content.NewStore(config.Storage.BasePath)
	if err != nil {
		return nil, fmt.Errorf("create content store: %w", err)
	}

	authSvc := auth.NewAuthService(&config.Security.JWT, userStore)
	hub := ws.NewHub(authSvc)

	reconcileSvc := reconcile.NewService(metaStore, contentStore, userStore, hub)

	chunkMgr := chunk.NewManager(contentStore, reconcileSvc,
		chunk.WithMaxSessionsPerUser(config.Chunking.MaxConcurrentSessions),
		chunk.WithSessionTTL(config.SessionTTL()),
		chunk.WithMaxChunkSize(config.Storage.ChunkSize),
	)

	return &Services{
		Users:     userStore,
		Auth:      authSvc,
		Metadata:  metaStore,
		Content:   contentStore,
		Reconcile: reconcileSvc,
		Chunks:    chunkMgr,
		Hub:       hub,
	}, nil
}
