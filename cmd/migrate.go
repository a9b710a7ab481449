package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobmate/alert-service/internal/db"
	"jobmate/alert-service/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.OpenPostgres(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		applied, err := db.Migrate(cmd.Context(), conn, logger.ComponentLogger("migrate"))
		if err != nil {
			return err
		}
		if applied == 0 {
			pterm.Info.Println("Schema is up to date")
			return nil
		}
		pterm.Success.Printf("Applied %d migration(s)\n", applied)
		return nil
	},
}
