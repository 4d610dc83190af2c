package main

import (
	"fmt"

	"github.com/fjod/go_pos/internal/config"
	"github.com/fjod/go_pos/internal/repository"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg, log)
			if err != nil {
				return err
			}
			return repo.Close()
		},
	}
}

// openRepository connects to the configured database and brings its schema
// up to date.
func openRepository(cfg *config.Config, log zerolog.Logger) (*repository.Repository, error) {
	creds := cfg.Credentials()

	repo, err := repository.NewRepository(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Str("driver", string(creds.Driver)).Msg("connected to database")

	if err := repo.RunMigrations(creds); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("database migrations applied")
	return repo, nil
}
