package scheduler

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/model"
)

// Scheduler wraps robfig/cron and fires the scrape and notify runs at their
// configured local hours.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	window Window
	log    *zap.SugaredLogger
}

// NewScheduler creates a Scheduler evaluating its specs in window.Location.
func NewScheduler(runner *Runner, window Window, log *zap.SugaredLogger) *Scheduler {
	clog := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(window.Location),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		runner: runner,
		window: window,
		log:    log,
	}
}

// Specs returns the cron expressions the scheduler registers, keyed by job.
func (s *Scheduler) Specs() map[string]string {
	return map[string]string{
		"scrape": fmt.Sprintf("0 %d * * *", s.window.ScrapeHour),
		"daily":  fmt.Sprintf("0 %d * * *", s.window.NotifyHour),
		"weekly": fmt.Sprintf("0 %d * * %d", s.window.NotifyHour, int(s.window.WeeklyDay)),
	}
}

// Start registers the jobs and starts the scheduler. Jobs run on ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	specs := s.Specs()
	jobs := map[string]func(){
		"scrape": func() { s.scrape(ctx) },
		"daily":  func() { s.notify(ctx, model.FrequencyDaily) },
		"weekly": func() { s.notify(ctx, model.FrequencyWeekly) },
	}
	for name, fn := range jobs {
		if _, err := s.cron.AddFunc(specs[name], fn); err != nil {
			return errors.Wrapf(err, "schedule %s %q", name, specs[name])
		}
	}

	s.cron.Start()
	s.log.Infow("cron started",
		"timezone", s.window.Location.String(),
		"scrape", specs["scrape"],
		"daily", specs["daily"],
		"weekly", specs["weekly"],
	)
	return nil
}

// Stop stops scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron stopped")
}

func (s *Scheduler) scrape(ctx context.Context) {
	stats, err := s.runner.Scrape(ctx)
	if err != nil {
		s.logRunError("scrape", err)
		return
	}
	s.log.Infow("scheduled scrape complete", "persisted", stats.Persisted(), "seen", stats.Seen)
}

func (s *Scheduler) notify(ctx context.Context, freq model.Frequency) {
	sum, err := s.runner.Notify(ctx, freq)
	if err != nil {
		s.logRunError("notify "+string(freq), err)
		return
	}
	s.log.Infow("scheduled notify complete", "frequency", freq, "notified", sum.Notified, "failed", sum.Failed)
}

func (s *Scheduler) logRunError(job string, err error) {
	if errors.Is(err, ErrBusy) {
		s.log.Infow("scheduled run skipped, already in progress", "job", job)
		return
	}
	s.log.Errorw("scheduled run failed", "job", job, "error", err)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
