// Package scheduler sequences scrape and notify runs: it guards them with
// cross-instance leases, runs request-triggered work in the background and
// drives the in-process cron schedule.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/events"
	"jobmate/alert-service/internal/lease"
	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/notifier"
	"jobmate/alert-service/internal/scraper"
)

// ErrBusy is returned when the requested run is already in progress on some
// instance.
var ErrBusy = errors.New("run already in progress")

// Scraper runs one scrape cycle.
type Scraper interface {
	Run(ctx context.Context) (*scraper.Stats, error)
}

// Notifier runs one notification pass for a tier.
type Notifier interface {
	Run(ctx context.Context, freq model.Frequency) (*notifier.Summary, error)
}

// Leaser hands out named leases.
type Leaser interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (lease.Release, error)
}

// Publisher receives completion events.
type Publisher interface {
	Publish(ctx context.Context, channel string, data any)
}

// Options bound background runs.
type Options struct {
	RunTimeout time.Duration // detached runs are cancelled after this
	LeaseTTL   time.Duration // must exceed the longest expected run
}

// Runner executes scrape and notify runs under leases.
type Runner struct {
	scraper  Scraper
	notifier Notifier
	leases   Leaser
	events   Publisher
	opts     Options
	log      *zap.SugaredLogger
	bg       sync.WaitGroup
}

// NewRunner returns a Runner. events may be nil.
func NewRunner(s Scraper, n Notifier, leases Leaser, events Publisher, opts Options, log *zap.SugaredLogger) *Runner {
	return &Runner{scraper: s, notifier: n, leases: leases, events: events, opts: opts, log: log}
}

func scrapeLease() string                     { return "scrape" }
func notifyLease(freq model.Frequency) string { return "notify:" + string(freq) }

// Scrape runs a scrape cycle synchronously.
func (r *Runner) Scrape(ctx context.Context) (*scraper.Stats, error) {
	release, err := r.acquire(ctx, scrapeLease())
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, release, scrapeLease())
	return r.runScrape(ctx)
}

// ScrapeAsync takes the scrape lease and returns; the run continues in the
// background, detached from ctx and bounded by RunTimeout.
func (r *Runner) ScrapeAsync(ctx context.Context) (runID string, err error) {
	release, err := r.acquire(ctx, scrapeLease())
	if err != nil {
		return "", err
	}
	runID = uuid.NewString()
	r.background(ctx, runID, func(ctx context.Context) {
		defer r.release(ctx, release, scrapeLease())
		if _, err := r.runScrape(ctx); err != nil {
			r.log.Errorw("background scrape failed", "run_id", runID, "error", err)
		}
	})
	return runID, nil
}

// Notify runs the notifier for freq synchronously.
func (r *Runner) Notify(ctx context.Context, freq model.Frequency) (*notifier.Summary, error) {
	release, err := r.acquire(ctx, notifyLease(freq))
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, release, notifyLease(freq))
	return r.runNotify(ctx, freq)
}

// NotifyAsync takes the leases of every tier in freqs, then notifies them in
// order in the background. Nothing starts if any lease is held.
func (r *Runner) NotifyAsync(ctx context.Context, freqs ...model.Frequency) (runID string, err error) {
	releases := make([]lease.Release, 0, len(freqs))
	for _, f := range freqs {
		rel, err := r.acquire(ctx, notifyLease(f))
		if err != nil {
			for i, taken := range releases {
				r.release(ctx, taken, notifyLease(freqs[i]))
			}
			return "", err
		}
		releases = append(releases, rel)
	}

	runID = uuid.NewString()
	r.background(ctx, runID, func(ctx context.Context) {
		for i, f := range freqs {
			if _, err := r.runNotify(ctx, f); err != nil {
				r.log.Errorw("background notify failed", "run_id", runID, "frequency", f, "error", err)
			}
			r.release(ctx, releases[i], notifyLease(f))
		}
	})
	return runID, nil
}

// Pipeline scrapes, then notifies the daily tier. A failed scrape still
// notifies from what is already stored.
func (r *Runner) Pipeline(ctx context.Context) (*scraper.Stats, *notifier.Summary, error) {
	stats, scrapeErr := r.Scrape(ctx)
	if scrapeErr != nil && !errors.Is(scrapeErr, ErrBusy) {
		r.log.Errorw("pipeline scrape failed, notifying anyway", "error", scrapeErr)
	}
	sum, err := r.Notify(ctx, model.FrequencyDaily)
	if err != nil {
		return stats, nil, err
	}
	return stats, sum, scrapeErr
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() { r.bg.Wait() }

func (r *Runner) runScrape(ctx context.Context) (*scraper.Stats, error) {
	stats, err := r.scraper.Run(ctx)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, events.JobsScraped, stats)
	return stats, nil
}

func (r *Runner) runNotify(ctx context.Context, freq model.Frequency) (*notifier.Summary, error) {
	sum, err := r.notifier.Run(ctx, freq)
	if sum != nil {
		r.publish(ctx, events.NotificationsSent, sum)
	}
	return sum, err
}

func (r *Runner) background(parent context.Context, runID string, fn func(ctx context.Context)) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.opts.RunTimeout)
		defer cancel()
		start := time.Now()
		r.log.Infow("background run started", "run_id", runID)
		fn(ctx)
		r.log.Infow("background run finished", "run_id", runID, "duration_ms", time.Since(start).Milliseconds())
	}()
}

func (r *Runner) acquire(ctx context.Context, name string) (lease.Release, error) {
	release, err := r.leases.Acquire(ctx, name, r.opts.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		return nil, errors.Mark(errors.Wrapf(err, "%s", name), ErrBusy)
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (r *Runner) release(ctx context.Context, release lease.Release, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		// The lease still expires after LeaseTTL.
		r.log.Warnw("lease release failed", "lease", name, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, channel string, data any) {
	if r.events != nil {
		r.events.Publish(ctx, channel, data)
	}
}
