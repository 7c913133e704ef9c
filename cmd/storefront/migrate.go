package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/storage"
)

func newMigrateCommand(path *string) *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL schema",
		Long:  "Creates the PostgreSQL tables used by the storefront and optionally loads a seed file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*path)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires the postgres storage driver, got %q", cfg.Storage.Driver)
			}

			logger, err := observability.NewLogger(cfg.Observability)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			pg, err := storage.OpenPgStore(ctx, cfg.Storage.DSN(), cfg.Storage.MaxConns)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer pg.Close()

			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("storage: migrate: %w", err)
			}
			logger.Info("schema migrated")

			if seedFile != "" {
				if err := seedStore(ctx, pg, seedFile); err != nil {
					return err
				}
				logger.Info("seed loaded", zap.String("file", seedFile))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "seed file to load after migrating")

	return cmd
}
