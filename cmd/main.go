// jobmate-alert-service
//
// Scrapes the workingnomads remote-job board into Postgres and pushes new
// postings matching each chat's keyword subscriptions to Telegram, daily or
// weekly. Subscriptions are managed through the bot or the HTTP API; runs are
// triggered by the HTTP cron endpoints or the in-process scheduler.
package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobmate/alert-service/internal/config"
	"jobmate/alert-service/internal/logger"
)

const (
	serviceName = "alert-service"
	version     = "1.0.0"
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Job alert pipeline: scraper, Telegram bot and notifier",
	Long: `alert-service - scrape remote job postings and notify Telegram subscribers.

Available commands:
  serve    - Run the HTTP API, bot, gRPC health and cron scheduler
  scrape   - Run one scrape cycle (--notify: then the daily tier) and exit
  notify   - Run one notification pass for a tier and exit
  migrate  - Apply pending database migrations

Examples:
  alert-service serve
  alert-service scrape
  alert-service notify weekly`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if err := logger.Initialize(cfg.LogJSON, cfg.LogLevel); err != nil {
			return errors.Wrap(err, "initialize logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, scrapeCmd, notifyCmd, migrateCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
