package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/instalite-chat/internal/app"
	"github.com/vovakirdan/instalite-chat/internal/config"
	applog "github.com/vovakirdan/instalite-chat/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		overrides   config.Config
		jwtRequired bool
	)

	cmd := &cobra.Command{
		Use:           "instalite-chat",
		Short:         "Private and global chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := applog.New(overrides.LogLevel)

			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				bootLog.Error().Err(err).Msg("failed to load config")
				return err
			}
			if cmd.Flags().Changed("jwt-required") {
				cfg.JWTRequired = jwtRequired
			}
			cfg.UpdateFrom(overrides)
			if err := cfg.Validate(); err != nil {
				bootLog.Error().Err(err).Str("path", path).Msg("invalid config")
				return err
			}

			logger := applog.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("storage", cfg.StorageDriver).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize app")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting instalite chat server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.StorageDriver, "storage", "", "message storage driver (sqlite, badger)")
	flags.StringVar(&overrides.DatabasePath, "db", "", "sqlite database path")
	flags.StringVar(&overrides.BadgerPath, "badger-path", "", "badger directory")
	flags.StringVar(&overrides.UploadDir, "upload-dir", "", "directory for uploaded files")
	flags.BoolVar(&jwtRequired, "jwt-required", false, "require a token in the websocket hello")

	return cmd
}
