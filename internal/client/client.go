// Package client wires the daemon together: config, local state, the HTTP
// SDK and the sync engine.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"

	"github.com/driftbox/driftbox/internal/client/config"
	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/client/sdk"
	"github.com/driftbox/driftbox/internal/client/sync"
	"github.com/driftbox/driftbox/internal/db"
	"github.com/driftbox/driftbox/internal/utils"
	"github.com/driftbox/driftbox/internal/vclock"
)

const (
	lockFileName  = "driftbox.lock"
	stateFileName = "file_sync.db"
)

var ErrAlreadyRunning = errors.New("client: another instance holds the lock")

type Client struct {
	cfg    *config.Config
	sdk    *sdk.DriftSDK
	db     *sqlx.DB
	state  *localstate.Store
	engine *sync.Engine
	lock   *flock.Flock
}

func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driftSDK, err := sdk.New(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("client: sdk: %w", err)
	}

	return &Client{
		cfg:  cfg,
		sdk:  driftSDK,
		lock: flock.New(filepath.Join(filepath.Dir(cfg.Path), lockFileName)),
	}, nil
}

// Start runs the daemon until ctx is cancelled. It holds a file lock for the
// lifetime of the process; a second instance against the same config fails
// fast.
func (c *Client) Start(ctx context.Context) error {
	locked, err := c.lock.TryLock()
	if err != nil {
		return fmt.Errorf("client: lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer c.lock.Unlock()

	if err := c.bootstrap(ctx); err != nil {
		return err
	}
	defer c.teardown()

	slog.Info("client start",
		"server", c.cfg.ServerURL,
		"syncPath", c.cfg.SyncPath,
		"clientId", c.cfg.ClientID,
	)

	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("client: sync engine: %w", err)
	}

	<-ctx.Done()
	slog.Info("client stopping")
	c.engine.Stop()
	return nil
}

// Login authenticates against the server and persists the credential pair.
// The daemon does not need to be running.
func (c *Client) Login(ctx context.Context, username, password string) error {
	tokens, err := c.sdk.Auth.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.cfg.Username = username
	c.cfg.AuthToken = tokens.AccessToken
	c.cfg.RefreshToken = tokens.RefreshToken
	if c.cfg.ClientID == "" {
		c.cfg.ClientID = vclock.DeriveClientID(username)
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	slog.Info("login", "username", username, "clientId", c.cfg.ClientID)
	return nil
}

// Register creates an account, then logs in with the same credentials.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	if _, err := c.sdk.Auth.Register(ctx, username, email, password); err != nil {
		return err
	}
	return c.Login(ctx, username, password)
}

// Status is a point-in-time summary for the status command.
type Status struct {
	ClientID      string `json:"clientId"`
	ServerURL     string `json:"serverUrl"`
	SyncPath      string `json:"syncPath"`
	Tracked       int    `json:"tracked"`
	Pending       int    `json:"pending"`
	Conflicted    int    `json:"conflicted"`
	Tombstones    int    `json:"tombstones"`
	QueuedTasks   int    `json:"queuedTasks"`
	Authenticated bool   `json:"authenticated"`
}

// Status opens the state database read-only relative to the daemon; it works
// whether or not the daemon is running.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	if c.state == nil {
		if err := c.openState(); err != nil {
			return nil, err
		}
	}

	tracked, err := c.state.ListTracked(ctx)
	if err != nil {
		return nil, err
	}
	queued, err := c.state.QueueLen(ctx)
	if err != nil {
		return nil, err
	}
	// conflicts live in the queue, not on the tracked record
	conflicts, err := c.state.QueueLenByOp(ctx, localstate.OpConflictResolve)
	if err != nil {
		return nil, err
	}

	st := &Status{
		ClientID:      c.cfg.ClientID,
		ServerURL:     c.cfg.ServerURL,
		SyncPath:      c.cfg.SyncPath,
		Conflicted:    conflicts,
		QueuedTasks:   queued,
		Authenticated: c.cfg.Authenticated(),
	}
	for _, f := range tracked {
		st.Tracked++
		switch f.SyncStatus {
		case localstate.StatusPending:
			st.Pending++
		case localstate.StatusDeleted:
			st.Tombstones++
			st.Tracked--
		}
	}
	return st, nil
}

func (c *Client) bootstrap(ctx context.Context) error {
	if err := utils.EnsureDir(c.cfg.SyncPath); err != nil {
		return fmt.Errorf("client: sync dir: %w", err)
	}
	if err := c.openState(); err != nil {
		return err
	}

	fallback := vclock.DeriveClientID(c.cfg.Username)
	if c.cfg.ClientID != "" {
		fallback = c.cfg.ClientID
	}
	clientID, err := c.state.EnsureClientID(ctx, fallback)
	if err != nil {
		return fmt.Errorf("client: client id: %w", err)
	}
	if clientID != c.cfg.ClientID {
		c.cfg.ClientID = clientID
		if err := c.cfg.Save(); err != nil {
			return err
		}
	}

	if !c.cfg.Authenticated() {
		return fmt.Errorf("client: not logged in, run 'driftbox login' first")
	}
	c.sdk.SetTokens(c.cfg.AuthToken, c.cfg.RefreshToken)
	c.sdk.Events.SetClientID(c.cfg.ClientID)

	// rotate the pair up front so a long-expired access token does not
	// fail the first sync pass
	if tokens, err := c.sdk.Auth.Refresh(ctx); err != nil {
		slog.Warn("token refresh", "error", err)
	} else {
		c.cfg.AuthToken = tokens.AccessToken
		c.cfg.RefreshToken = tokens.RefreshToken
		if err := c.cfg.Save(); err != nil {
			return err
		}
	}

	engine, err := sync.NewEngine(sync.Config{
		SyncRoot:         c.cfg.SyncPath,
		ClientID:         c.cfg.ClientID,
		PollDisconnected: c.cfg.SyncInterval,
	}, c.sdk, c.state, nil)
	if err != nil {
		return fmt.Errorf("client: sync engine: %w", err)
	}
	c.engine = engine
	return nil
}

func (c *Client) openState() error {
	stateDB, err := db.NewSqliteDB(
		db.WithPath(filepath.Join(filepath.Dir(c.cfg.Path), stateFileName)),
	)
	if err != nil {
		return fmt.Errorf("client: state db: %w", err)
	}
	store, err := localstate.NewStore(stateDB)
	if err != nil {
		stateDB.Close()
		return fmt.Errorf("client: state schema: %w", err)
	}
	c.db = stateDB
	c.state = store
	return nil
}

func (c *Client) teardown() {
	c.sdk.Close()
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			slog.Warn("state db close", "error", err)
		}
	}
}
