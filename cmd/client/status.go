package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftbox/driftbox/internal/client"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Server:        %s\n", st.ServerURL)
			fmt.Printf("Sync dir:      %s\n", st.SyncPath)
			fmt.Printf("Client ID:     %s\n", st.ClientID)
			fmt.Printf("Authenticated: %v\n", st.Authenticated)
			fmt.Printf("Tracked files: %d\n", st.Tracked)
			fmt.Printf("Pending:       %d\n", st.Pending)
			fmt.Printf("Conflicted:    %d\n", st.Conflicted)
			fmt.Printf("Tombstones:    %d\n", st.Tombstones)
			fmt.Printf("Queued tasks:  %d\n", st.QueuedTasks)
			return nil
		},
	}
}
