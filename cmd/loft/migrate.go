//go:build !test

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/loft/internal/migrations"
)

func newMigrateCommand() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and report the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// InitializeDatabase applies pending migrations
			ds, err := cfg.InitializeDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer ds.Close()

			migrator := migrations.NewMigrator(ds.DB, ds.Driver)
			for _, m := range migrations.All() {
				migrator.AddMigration(m)
			}
			if rollback {
				if err := migrator.Rollback(); err != nil {
					return fmt.Errorf("failed to roll back: %w", err)
				}
			}

			version, err := migrator.GetCurrentVersion()
			if err != nil {
				return err
			}
			log.Info().Int64("version", version).Int("known", len(migrator.GetMigrations())).Msg("schema up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recent migration after applying")
	return cmd
}
