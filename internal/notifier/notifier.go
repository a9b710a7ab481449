// Package notifier delivers new matching jobs to subscribers of one
// frequency tier and advances their watermarks after confirmed delivery.
package notifier

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/retry"
)

// Subscriptions is the part of the subscription store the notifier needs.
type Subscriptions interface {
	ListByFrequency(ctx context.Context, freq model.Frequency) ([]model.Subscription, error)
	AdvanceWatermark(ctx context.Context, chatID int64, keyword string, newID int64) (bool, error)
}

// Jobs finds notification candidates.
type Jobs interface {
	FindNewMatching(ctx context.Context, keyword string, afterID int64) ([]model.Job, error)
}

// Sender delivers an HTML message to a chat. Errors wrapped with
// retry.Permanent are not retried.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// Summary reports the outcome of one notifier run.
type Summary struct {
	Frequency         model.Frequency `json:"frequency"`
	Subscribers       int             `json:"subscribers"`
	Notified          int             `json:"notified"`
	Failed            int             `json:"failed"`
	Skipped           int             `json:"skipped"`
	JobsDelivered     int             `json:"jobsDelivered"`
	WatermarkFailures int             `json:"watermarkFailures"`
	Duration          time.Duration   `json:"-"`
	DurationMS        int64           `json:"durationMs"`
}

// Notifier runs the per-tier notification pass.
type Notifier struct {
	subs    Subscriptions
	jobs    Jobs
	sender  Sender
	maxJobs int
	policy  retry.Policy
	log     *zap.SugaredLogger
}

// New returns a Notifier listing at most maxJobs postings per message.
func New(subs Subscriptions, jobs Jobs, sender Sender, maxJobs int, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		subs:    subs,
		jobs:    jobs,
		sender:  sender,
		maxJobs: maxJobs,
		policy:  retry.Default,
		log:     log,
	}
}

// WithPolicy overrides the retry policy used for sends and watermark writes.
func (n *Notifier) WithPolicy(p retry.Policy) *Notifier {
	n.policy = p
	return n
}

// Run notifies every subscriber of freq, one at a time. Only a failure to
// load the subscriber list (or cancellation) fails the run; per-subscriber
// errors are counted in the Summary.
func (n *Notifier) Run(ctx context.Context, freq model.Frequency) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Frequency: freq}
	finish := func() *Summary {
		sum.Duration = time.Since(start)
		sum.DurationMS = sum.Duration.Milliseconds()
		return sum
	}

	subs, err := n.subs.ListByFrequency(ctx, freq)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s subscriptions", freq)
	}
	sum.Subscribers = len(subs)
	n.log.Infow("Notifying subscribers", "frequency", freq, "subscribers", len(subs))

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return finish(), errors.Wrap(err, "notify run interrupted")
		}
		n.notifyOne(ctx, sub, sum)
	}

	finish()
	n.log.Infow("Notify done",
		"frequency", freq,
		"subscribers", sum.Subscribers,
		"notified", sum.Notified,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"jobs_delivered", sum.JobsDelivered,
		"duration_ms", sum.DurationMS,
	)
	return sum, nil
}

func (n *Notifier) notifyOne(ctx context.Context, sub model.Subscription, sum *Summary) {
	log := n.log.With("chat_id", sub.ChatID, "keyword", sub.Keyword)

	found, err := n.jobs.FindNewMatching(ctx, sub.Keyword, sub.LastJobID)
	if err != nil {
		log.Errorw("candidate query failed", "error", err)
		sum.Failed++
		return
	}
	candidates := make([]model.Job, 0, len(found))
	var maxID int64
	for _, j := range found {
		if !sub.Matches(j) {
			continue
		}
		candidates = append(candidates, j)
		if j.ID > maxID {
			maxID = j.ID
		}
	}
	if len(candidates) == 0 {
		sum.Skipped++
		return
	}

	text := FormatMessage(sub.Keyword, candidates, n.maxJobs)
	err = n.policy.Do(ctx, func(ctx context.Context) error {
		return n.sender.SendHTML(ctx, sub.ChatID, text)
	}, func(attempt int, err error, wait time.Duration) {
		log.Warnw("send failed, retrying", "attempt", attempt, "wait_ms", wait.Milliseconds(), "error", err)
	})
	if err != nil {
		sum.Failed++
		if retry.IsPermanent(err) {
			// The subscription is kept; the chat may become reachable again.
			log.Warnw("chat unreachable, subscription kept", "error", err)
		} else {
			log.Errorw("delivery failed, watermark unchanged", "error", err)
		}
		return
	}
	sum.Notified++
	sum.JobsDelivered += len(candidates)

	err = n.policy.Do(ctx, func(ctx context.Context) error {
		_, err := n.subs.AdvanceWatermark(ctx, sub.ChatID, sub.Keyword, maxID)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		log.Warnw("watermark write failed, retrying", "attempt", attempt, "error", err)
	})
	if err != nil {
		// Delivered but not recorded: the next run sends these jobs again.
		sum.WatermarkFailures++
		log.Errorw("watermark not advanced", "last_job_id", maxID, "error", err)
		return
	}
	log.Infow("Notified", "jobs", len(candidates), "last_job_id", maxID)
}
