package main

import (
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobmate/alert-service/internal/logger"
	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/notifier"
	"jobmate/alert-service/internal/scraper"
	"jobmate/alert-service/internal/telegram"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape cycle and print its statistics",
	Args:  cobra.NoArgs,
	RunE:  runScrape,
}

var scrapeThenNotify bool

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeThenNotify, "notify", false, "Notify the daily tier after scraping")
}

var notifyCmd = &cobra.Command{
	Use:       "notify <daily|weekly>",
	Short:     "Run one notification pass for a frequency tier",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(model.FrequencyDaily), string(model.FrequencyWeekly)},
	RunE:      runNotify,
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	if !scrapeThenNotify {
		stats, err := d.runner(nil).Scrape(ctx)
		if err != nil {
			return err
		}
		printScrapeStats(stats)
		if total, err := d.jobs.Count(ctx); err == nil {
			pterm.Info.Printf("%d postings stored in total\n", total)
		}
		return nil
	}

	tg, err := telegram.New(cfg.TelegramToken, logger.ComponentLogger("telegram"))
	if err != nil {
		return err
	}
	stats, sum, err := d.runner(tg).Pipeline(ctx)
	if stats != nil {
		printScrapeStats(stats)
	}
	if sum != nil {
		printSummary(sum)
	}
	return err
}

func runNotify(cmd *cobra.Command, args []string) error {
	freq, err := model.ParseFrequency(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	tg, err := telegram.New(cfg.TelegramToken, logger.ComponentLogger("telegram"))
	if err != nil {
		return err
	}

	sum, err := d.runner(tg).Notify(ctx, freq)
	if err != nil {
		return err
	}
	printSummary(sum)
	return nil
}

func printScrapeStats(s *scraper.Stats) {
	pterm.DefaultSection.Println("Scrape complete")
	rows := pterm.TableData{
		{"Seen", "Dropped", "Filtered", "Duplicates", "Detail lookups", "Inserted", "Updated", "Unchanged", "Duration"},
		{itoa(s.Seen), itoa(s.Dropped), itoa(s.Filtered), itoa(s.Duplicates), itoa(s.DetailLookups),
			itoa(s.Inserted), itoa(s.Updated), itoa(s.Unchanged), s.Duration.Round(time.Millisecond).String()},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	pterm.Success.Printf("%d postings persisted\n", s.Persisted())
}

func printSummary(s *notifier.Summary) {
	pterm.DefaultSection.Println(s.Frequency.Label() + " notifications")
	rows := pterm.TableData{
		{"Subscribers", "Notified", "Skipped", "Failed", "Jobs delivered", "Watermark failures", "Duration"},
		{itoa(s.Subscribers), itoa(s.Notified), itoa(s.Skipped), itoa(s.Failed), itoa(s.JobsDelivered),
			itoa(s.WatermarkFailures), s.Duration.Round(time.Millisecond).String()},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	if s.Failed > 0 {
		pterm.Warning.Printf("%d subscriber(s) could not be notified\n", s.Failed)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
