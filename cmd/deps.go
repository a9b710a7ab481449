package main

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/db"
	"jobmate/alert-service/internal/events"
	"jobmate/alert-service/internal/lease"
	"jobmate/alert-service/internal/logger"
	"jobmate/alert-service/internal/notifier"
	"jobmate/alert-service/internal/scheduler"
	"jobmate/alert-service/internal/scraper"
	"jobmate/alert-service/internal/store"
	"jobmate/alert-service/internal/telegram"
)

// deps holds the connections and components shared by every command.
type deps struct {
	db     *sql.DB
	rdb    *redis.Client
	jobs   *store.JobStore
	subs   *store.SubscriptionStore
	events *events.Publisher
	leases *lease.Manager
	log    *zap.SugaredLogger
}

// connect opens Postgres and Redis and builds the stores.
func connect(ctx context.Context) (*deps, error) {
	log := logger.ComponentLogger("main")

	log.Info("Connecting to PostgreSQL…")
	conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connected")

	log.Info("Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Info("Redis connected")

	return &deps{
		db:     conn,
		rdb:    rdb,
		jobs:   store.NewJobStore(conn),
		subs:   store.NewSubscriptionStore(conn),
		events: events.NewPublisher(rdb, logger.ComponentLogger("events")),
		leases: lease.NewManager(rdb),
		log:    log,
	}, nil
}

func (d *deps) Close() {
	if err := d.rdb.Close(); err != nil {
		d.log.Warnw("redis close", "error", err)
	}
	if err := d.db.Close(); err != nil {
		d.log.Warnw("postgres close", "error", err)
	}
}

// runner builds the lease-guarded scrape and notify runner. tg may be nil
// for commands that never notify.
func (d *deps) runner(tg *telegram.Client) *scheduler.Runner {
	fetcher := scraper.NewBoardFetcher(cfg.Scrape, scraper.DefaultSelectors, logger.ComponentLogger("fetcher"))
	worker := scraper.NewWorker(fetcher, d.jobs, cfg.Scrape, logger.ComponentLogger("scraper"))

	var n scheduler.Notifier
	if tg != nil {
		n = notifier.New(d.subs, d.jobs, tg, cfg.NotifyMaxJobs, logger.ComponentLogger("notifier"))
	}

	return scheduler.NewRunner(worker, n, d.leases, d.events,
		scheduler.Options{RunTimeout: cfg.Scrape.RunTimeout, LeaseTTL: cfg.Scrape.LeaseTTL},
		logger.ComponentLogger("runner"))
}

func window() scheduler.Window {
	return scheduler.Window{
		Location:   cfg.Timezone,
		ScrapeHour: cfg.ScrapeHour,
		NotifyHour: cfg.NotifyHour,
		WeeklyDay:  cfg.WeeklyDay,
		Width:      cfg.TriggerWindow,
	}
}
