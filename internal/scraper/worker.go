package scraper

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobmate/alert-service/internal/config"
	"jobmate/alert-service/internal/model"
	"jobmate/alert-service/internal/store"
)

// Source loads postings from the job board.
type Source interface {
	Listing(ctx context.Context) (*Listing, error)
	DetailSalary(ctx context.Context, postingURL string) (string, error)
}

// JobWriter persists a batch of postings keyed by URL.
type JobWriter interface {
	UpsertJobs(ctx context.Context, jobs []model.ScrapedJob) (store.UpsertResult, error)
}

// Stats summarises one scrape run.
type Stats struct {
	Seen          int           `json:"seen"`
	Dropped       int           `json:"dropped"`
	Filtered      int           `json:"filtered"`
	Duplicates    int           `json:"duplicates"`
	DetailLookups int           `json:"detailLookups"`
	Inserted      int           `json:"inserted"`
	Updated       int           `json:"updated"`
	Unchanged     int           `json:"unchanged"`
	Duration      time.Duration `json:"-"`
	DurationMS    int64         `json:"durationMs"`
}

// Persisted is the number of postings written to the store.
func (s Stats) Persisted() int { return s.Inserted + s.Updated + s.Unchanged }

// Worker runs the full scrape cycle: listing, exclude-term filtering,
// deduplication by URL, salary detail lookups and the batched upsert.
type Worker struct {
	source  Source
	jobs    JobWriter
	cfg     config.ScrapeConfig
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewWorker constructs a Worker.
func NewWorker(source Source, jobs JobWriter, cfg config.ScrapeConfig, log *zap.SugaredLogger) *Worker {
	burst := int(cfg.DetailPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Worker{
		source:  source,
		jobs:    jobs,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.DetailPerSecond), burst),
		log:     log,
	}
}

// Run executes one scrape cycle. Per-item problems are absorbed; a listing
// failure or a failed persist transaction fails the run.
func (w *Worker) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	listing, err := w.source.Listing(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "scrape listing")
	}
	stats.Seen = len(listing.Jobs) + listing.Dropped
	stats.Dropped = listing.Dropped

	kept := make([]model.ScrapedJob, 0, len(listing.Jobs))
	for _, j := range listing.Jobs {
		if ContainsExcludedTerm(j.Title, j.Company, w.cfg.ExcludeTerms) {
			stats.Filtered++
			continue
		}
		kept = append(kept, j)
	}

	unique := Dedup(kept)
	stats.Duplicates = len(kept) - len(unique)

	stats.DetailLookups = w.lookupSalaries(ctx, unique)

	res, err := w.jobs.UpsertJobs(ctx, unique)
	if err != nil {
		return nil, errors.Wrap(err, "persist jobs")
	}
	stats.Inserted = res.Inserted
	stats.Updated = res.Updated
	stats.Unchanged = res.Unchanged
	stats.Duration = time.Since(start)
	stats.DurationMS = stats.Duration.Milliseconds()

	w.log.Infow("Scrape done",
		"seen", stats.Seen,
		"dropped", stats.Dropped,
		"filtered", stats.Filtered,
		"duplicates", stats.Duplicates,
		"detail_lookups", stats.DetailLookups,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return stats, nil
}

// lookupSalaries fills in missing salaries from detail pages for postings on
// the board's own site. Lookups are capped per run, run DetailWorkers at a
// time and are rate limited; a failed lookup leaves the placeholder.
func (w *Worker) lookupSalaries(ctx context.Context, jobs []model.ScrapedJob) int {
	var targets []int
	for i, j := range jobs {
		if j.Salary != model.Unknown || !strings.HasPrefix(j.URL, w.cfg.BaseURL) {
			continue
		}
		if w.cfg.DetailLookups > 0 && len(targets) >= w.cfg.DetailLookups {
			break
		}
		targets = append(targets, i)
	}
	if len(targets) == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		lookups int
	)
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.DetailWorkers)
	for _, i := range targets {
		i := i
		g.Go(func() error {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			lookupCtx, cancel := context.WithTimeout(ctx, w.cfg.DetailTimeout)
			defer cancel()

			salary, err := w.source.DetailSalary(lookupCtx, jobs[i].URL)
			mu.Lock()
			lookups++
			mu.Unlock()
			if err != nil {
				w.log.Warnw("detail lookup failed", "url", jobs[i].URL, "error", err)
				return nil
			}
			// Each goroutine owns jobs[i].
			jobs[i].Salary = salary
			return nil
		})
	}
	_ = g.Wait()
	return lookups
}

// Dedup keeps one posting per URL. The last occurrence wins, placed at the
// position of the first.
func Dedup(jobs []model.ScrapedJob) []model.ScrapedJob {
	index := make(map[string]int, len(jobs))
	out := make([]model.ScrapedJob, 0, len(jobs))
	for _, j := range jobs {
		if i, ok := index[j.URL]; ok {
			out[i] = j
			continue
		}
		index[j.URL] = len(out)
		out = append(out, j)
	}
	return out
}
