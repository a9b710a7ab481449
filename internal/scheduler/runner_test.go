package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"jobmate/alert-service/internal/events"
	"jobmate/alert-service/internal/lease"
	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/notifier"
	"jobmate/alert-service/internal/scraper"
)

type fakeScraper struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (f *fakeScraper) Run(ctx context.Context) (*scraper.Stats, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &scraper.Stats{Seen: 3, Inserted: 2, Unchanged: 1}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	freqs []model.Frequency
}

func (f *fakeNotifier) Run(_ context.Context, freq model.Frequency) (*notifier.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freqs = append(f.freqs, freq)
	return &notifier.Summary{Frequency: freq, Subscribers: 1, Notified: 1}, nil
}

func (f *fakeNotifier) seen() []model.Frequency {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Frequency(nil), f.freqs...)
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
}

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.channels...)
}

type fixture struct {
	runner   *Runner
	scraper  *fakeScraper
	notifier *fakeNotifier
	pub      *recordingPublisher
	leases   *lease.Manager
	mr       *miniredis.Miniredis
}

func (f *fixture) held(name string) bool { return f.mr.Exists(lease.Key(name)) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		scraper:  &fakeScraper{},
		notifier: &fakeNotifier{},
		pub:      &recordingPublisher{},
		leases:   lease.NewManager(rdb),
		mr:       mr,
	}
	f.runner = NewRunner(f.scraper, f.notifier, f.leases, f.pub,
		Options{RunTimeout: 5 * time.Second, LeaseTTL: time.Minute},
		zaptest.NewLogger(t).Sugar())
	return f
}

func TestRunner_ScrapePublishesAndReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.runner.Scrape(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Persisted())
	assert.Equal(t, []string{events.JobsScraped}, f.pub.seen())

	assert.False(t, f.held("scrape"))
}

func TestRunner_ScrapeBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.leases.Acquire(ctx, "scrape", time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	_, err = f.runner.Scrape(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Zero(t, f.scraper.calls.Load())
}

func TestRunner_ScrapeFailureReleasesLease(t *testing.T) {
	f := newFixture(t)
	f.scraper.err = scraper.ErrListingUnavailable
	ctx := context.Background()

	_, err := f.runner.Scrape(ctx)
	assert.ErrorIs(t, err, scraper.ErrListingUnavailable)
	assert.Empty(t, f.pub.seen())

	assert.False(t, f.held("scrape"))
}

func TestRunner_ScrapeAsyncOutlivesRequest(t *testing.T) {
	f := newFixture(t)
	f.scraper.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	runID, err := f.runner.ScrapeAsync(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	cancel()

	// A second trigger while the first is still running is rejected.
	_, err = f.runner.ScrapeAsync(context.Background())
	assert.True(t, errors.Is(err, ErrBusy))

	close(f.scraper.block)
	f.runner.Wait()

	assert.Equal(t, []string{events.JobsScraped}, f.pub.seen())
	assert.False(t, f.held("scrape"))
}

func TestRunner_NotifyAsyncRunsInOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.NotifyAsync(context.Background(), model.FrequencyDaily, model.FrequencyWeekly)
	require.NoError(t, err)
	f.runner.Wait()

	assert.Equal(t, []model.Frequency{model.FrequencyDaily, model.FrequencyWeekly}, f.notifier.seen())
	assert.Equal(t, []string{events.NotificationsSent, events.NotificationsSent}, f.pub.seen())
}

func TestRunner_NotifyAsyncBusyReleasesTaken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.leases.Acquire(ctx, "notify:weekly", time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	_, err = f.runner.NotifyAsync(ctx, model.FrequencyDaily, model.FrequencyWeekly)
	assert.True(t, errors.Is(err, ErrBusy))
	f.runner.Wait()
	assert.Empty(t, f.notifier.seen())

	assert.False(t, f.held("notify:daily"), "daily lease must be released when weekly is busy")
}

func TestRunner_NotifyTiersAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.leases.Acquire(ctx, "notify:weekly", time.Minute)
	require.NoError(t, err)
	defer func() { _ = release(ctx) }()

	sum, err := f.runner.Notify(ctx, model.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Notified)
}

func TestRunner_PipelineNotifiesAfterFailedScrape(t *testing.T) {
	f := newFixture(t)
	f.scraper.err = errors.New("boom")

	stats, sum, err := f.runner.Pipeline(context.Background())
	assert.Error(t, err)
	assert.Nil(t, stats)
	require.NotNil(t, sum)
	assert.Equal(t, []model.Frequency{model.FrequencyDaily}, f.notifier.seen())
}
