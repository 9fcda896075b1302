package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftbox/driftbox/internal/server"
	"github.com/driftbox/driftbox/internal/version"
)

func main() {
	// .env is optional; environment always wins over it
	_ = godotenv.Load()

	setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "driftbox-server",
		Short:   "DriftBox sync server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}

			slog.Info("driftbox-server",
				"version", version.Version,
				"revision", version.Revision,
				"build", version.BuildDate,
			)

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (yaml)")
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind")
	rootCmd.Flags().String("cert", "", "Path to the TLS certificate")
	rootCmd.Flags().String("key", "", "Path to the TLS key")
	rootCmd.Flags().String("data", "./data", "Base directory for file storage")
	rootCmd.Flags().String("db", "./data/driftbox.db", "Path to the metadata database")
	return rootCmd
}

func loadConfig(cmd *cobra.Command, configPath string) (*server.Config, error) {
	v := viper.New()

	v.SetEnvPrefix("DRIFTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read %q: %w", configPath, err)
		}
	}

	v.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	v.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	v.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))
	v.BindPFlag("storage.base_path", cmd.Flags().Lookup("data"))
	v.BindPFlag("storage.db_path", cmd.Flags().Lookup("db"))

	// jwt secrets come from the environment or the config file, never flags
	v.BindEnv("security.jwt.secret", "DRIFTBOX_JWT_SECRET")
	v.BindEnv("security.jwt.refresh_secret", "DRIFTBOX_JWT_REFRESH_SECRET")
	v.SetDefault("security.jwt.issuer", "driftbox")
	v.SetDefault("security.jwt.expiration", time.Hour)
	v.SetDefault("security.jwt.refresh_expiration", 30*24*time.Hour)

	var cfg server.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupLogger() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}
