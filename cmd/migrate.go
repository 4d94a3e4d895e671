package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/meeting-service/internal/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return errors.New("DATABASE_URL is not set")
			}

			pool, err := postgres.NewPool(cmd.Context(), postgres.Config{
				DSN:             cfg.Postgres.DSN,
				MaxConns:        2,
				ApplicationName: cfg.Logging.Service + "-migrate",
			})
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()

			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			slog.Info("schema is up to date")
			return nil
		},
	}
}
