package main

import (
	"os"

	"github.com/Priya8975/pushhub/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		pg, err := store.NewPostgres(cmd.Context(), cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()

		n, err := pg.RunMigrations(cmd.Context(), os.DirFS(cfg.MigrationsDir))
		if err != nil {
			return err
		}
		logger.Info("database migrations applied", "applied", n, "dir", cfg.MigrationsDir)
		return nil
	},
}
