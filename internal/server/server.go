package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/driftbox/driftbox/internal/db"
)

const chunkCleanupInterval = time.Hour

type Server struct {
	config   *Config
	server   *http.Server
	services *Services
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	database, err := db.NewSqliteDB(db.WithPath(config.Storage.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open server db: %w", err)
	}

	services, err := NewServices(config, database)
	if err != nil {
		database.Close()
		return nil, err
	}

	return &Server{
		config:   config,
		services: services,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: SetupRoutes(config, services),
		},
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("driftbox server start")
	defer slog.Info("driftbox server stop")

	go s.services.Hub.Run(ctx)
	go s.runChunkCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHTTPServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		slog.Info("http server stopped")
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("driftbox shutdown signal")
	if err := s.Stop(context.Background()); err != nil {
		slog.Error("driftbox shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.services.Hub.Shutdown(shutdownCtx)

	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) runHTTPServer() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}

// runChunkCleanup sweeps chunk sessions hourly: expires overdue IN_PROGRESS
// sessions and purges aged terminal ones.
func (s *Server) runChunkCleanup(ctx context.Context) {
	timer := time.NewTimer(chunkCleanupInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.services.Chunks.Cleanup()
			timer.Reset(chunkCleanupInterval)
		case <-ctx.Done():
			return
		}
	}
}
