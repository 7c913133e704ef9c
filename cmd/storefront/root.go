package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/storage"
)

func newRootCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Retail stores API",
		Long:          "Serves stores, their opening days and hours, and their managers over an authenticated JSON API.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       fmt.Sprintf("%s.%s", version, commit),
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (defaults are used when empty)")

	cmd.AddCommand(newServeCommand(&path))
	cmd.AddCommand(newMigrateCommand(&path))

	return cmd
}

// openStore builds the configured repository. The returned store is seeded
// from cfg.Storage.SeedFile when one is set.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Repository, error) {
	var repo storage.Repository

	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := storage.OpenPgStore(ctx, cfg.DSN(), cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("storage: migrate: %w", err)
			}
			logger.Info("schema migrated")
		}
		repo = pg
	default:
		logger.Info("using in-memory store")
		repo = storage.NewMemoryStore()
	}

	if cfg.SeedFile != "" {
		if err := seedStore(ctx, repo, cfg.SeedFile); err != nil {
			repo.Close()
			return nil, err
		}
		logger.Info("seed loaded", zap.String("file", cfg.SeedFile))
	}

	return repo, nil
}

func seedStore(ctx context.Context, repo storage.Repository, path string) error {
	seeder, ok := repo.(storage.Seeder)
	if !ok {
		return fmt.Errorf("storage: %T cannot be seeded", repo)
	}
	seed, err := storage.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := seeder.Seed(ctx, seed); err != nil {
		return fmt.Errorf("storage: seed %s: %w", path, err)
	}
	return nil
}
