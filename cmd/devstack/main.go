// Command devstack runs a throwaway server plus N logged-in clients under a
// single temp directory. It exists for local protocol hacking: touch a file
// in one client's sync dir and watch it land in the others.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftbox/driftbox/internal/client"
	"github.com/driftbox/driftbox/internal/client/config"
	"github.com/driftbox/driftbox/internal/server"
	"github.com/driftbox/driftbox/internal/server/auth"
)

const (
	devAddr     = "127.0.0.1:18080"
	devPassword = "driftbox-dev"
)

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var clients int
	var rootDir string

	rootCmd := &cobra.Command{
		Use:   "devstack",
		Short: "Run a local server and a few clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), rootDir, clients)
		},
	}
	rootCmd.Flags().IntVarP(&clients, "clients", "n", 2, "Number of client daemons")
	rootCmd.Flags().StringVarP(&rootDir, "dir", "d", "", "Stack directory (default: a temp dir)")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, rootDir string, clients int) error {
	if rootDir == "" {
		dir, err := os.MkdirTemp("", "driftbox-devstack-*")
		if err != nil {
			return err
		}
		rootDir = dir
	}
	slog.Info("devstack", "dir", rootDir, "clients", clients)

	srv, err := server.New(&server.Config{
		HTTP: server.HTTPConfig{Addr: devAddr},
		Storage: server.StorageConfig{
			BasePath: filepath.Join(rootDir, "server", "files"),
			DBPath:   filepath.Join(rootDir, "server", "driftbox.db"),
		},
		Security: server.SecurityConfig{
			JWT: auth.Config{
				TokenIssuer:        "driftbox-dev",
				AccessTokenSecret:  "devstack-access-secret",
				AccessTokenExpiry:  time.Hour,
				RefreshTokenSecret: "devstack-refresh-secret",
				RefreshTokenExpiry: 24 * time.Hour,
			},
		},
	})
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Start(egCtx) })

	// let the listener come up before the clients dial it
	select {
	case <-time.After(time.Second):
	case <-egCtx.Done():
		return eg.Wait()
	}

	for i := 1; i <= clients; i++ {
		c, err := newDevClient(egCtx, rootDir, i)
		if err != nil {
			return err
		}
		eg.Go(func() error { return c.Start(egCtx) })
	}

	for i := 1; i <= clients; i++ {
		slog.Info("devstack client ready",
			"user", fmt.Sprintf("dev%d", i),
			"syncDir", filepath.Join(rootDir, fmt.Sprintf("client%d", i), "DriftBox"),
		)
	}
	return eg.Wait()
}

func newDevClient(ctx context.Context, rootDir string, n int) (*client.Client, error) {
	base := filepath.Join(rootDir, fmt.Sprintf("client%d", n))
	cfg := &config.Config{
		Path:         filepath.Join(base, "client.properties"),
		ServerURL:    "http://" + devAddr,
		SyncPath:     filepath.Join(base, "DriftBox"),
		SyncInterval: 5 * time.Second,
	}
	if err := os.MkdirAll(cfg.SyncPath, 0o755); err != nil {
		return nil, err
	}

	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}

	username := fmt.Sprintf("dev%d", n)
	if err := c.Register(ctx, username, username+"@driftbox.local", devPassword); err != nil {
		// reruns against the same dir hit the existing account
		if lerr := c.Login(ctx, username, devPassword); lerr != nil {
			return nil, fmt.Errorf("devstack login %s: %w", username, lerr)
		}
	}
	return c, nil
}
