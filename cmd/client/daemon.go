package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/driftbox/driftbox/internal/client"
	"github.com/driftbox/driftbox/internal/version"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var serverURL string
	var syncPath string

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if syncPath != "" {
				cfg.SyncPath = syncPath
			}

			slog.Info("driftbox",
				"version", version.Version,
				"revision", version.Revision,
				"build", version.BuildDate,
			)

			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := c.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("daemon", "error", err)
				return err
			}
			return nil
		},
	}

	daemonCmd.Flags().StringVarP(&serverURL, "server", "s", "", "Server URL (overrides config)")
	daemonCmd.Flags().StringVarP(&syncPath, "dir", "d", "", "Sync directory (overrides config)")
	return daemonCmd
}
