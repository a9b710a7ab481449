// Package store persists jobs and subscriptions in Postgres.
//
// Both stores take a *sql.DB opened with the pgx driver (see db.OpenPostgres),
// so every query can be exercised against go-sqlmock in tests.
package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"

	"jobmate/alert-service/internal/model"
)

// ─── Job store ───────────────────────────────────────────────────────────────

// UpsertResult counts per-row outcomes of UpsertJobs.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// JobStore reads and writes the jobs table.
type JobStore struct {
	db *sql.DB
}

// NewJobStore returns a JobStore on db.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// upsertJobSQL refreshes title, company and site on conflict, and salary only
// when the new value is not the placeholder. The WHERE clause turns an
// identical re-upsert into a no-op (no row returned); xmax = 0 distinguishes a
// fresh insert from an update.
const upsertJobSQL = `
	INSERT INTO jobs (title, company, url, salary, site_url)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (url) DO UPDATE SET
	    title      = EXCLUDED.title,
	    company    = EXCLUDED.company,
	    salary     = COALESCE(NULLIF(EXCLUDED.salary, 'unknown'), jobs.salary),
	    site_url   = EXCLUDED.site_url,
	    updated_at = NOW()
	WHERE (jobs.title, jobs.company, jobs.site_url, jobs.salary)
	      IS DISTINCT FROM
	      (EXCLUDED.title, EXCLUDED.company, EXCLUDED.site_url,
	       COALESCE(NULLIF(EXCLUDED.salary, 'unknown'), jobs.salary))
	RETURNING (xmax = 0)`

// UpsertJobs writes jobs keyed by URL inside a single transaction. Either
// every row is applied or none is.
func (s *JobStore) UpsertJobs(ctx context.Context, jobs []model.ScrapedJob) (UpsertResult, error) {
	var res UpsertResult
	if len(jobs) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, errors.Wrap(err, "upsertJobs begin")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, j := range jobs {
		var inserted bool
		err := tx.QueryRowContext(ctx, upsertJobSQL,
			j.Title, orUnknown(j.Company), j.URL, orUnknown(j.Salary), j.SiteURL,
		).Scan(&inserted)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res.Unchanged++
		case err != nil:
			return UpsertResult{}, errors.Wrapf(err, "upsertJobs %s", j.URL)
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, errors.Wrap(err, "upsertJobs commit")
	}
	return res, nil
}

// FindNewMatching returns jobs with id > afterID whose title contains keyword
// (case-insensitive), ordered by id ascending.
func (s *JobStore) FindNewMatching(ctx context.Context, keyword string, afterID int64) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, company, url, salary, site_url, created_at
		 FROM jobs
		 WHERE id > $1 AND title ILIKE $2 ESCAPE '\'
		 ORDER BY id ASC`,
		afterID, "%"+EscapeLike(strings.ToLower(keyword))+"%",
	)
	if err != nil {
		return nil, errors.Wrap(err, "findNewMatching query")
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		var j model.Job
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &j.URL, &j.Salary, &j.SiteURL, &j.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "findNewMatching scan")
		}
		jobs = append(jobs, j)
	}
	return jobs, errors.Wrap(rows.Err(), "findNewMatching rows")
}

// Count returns the number of stored jobs.
func (s *JobStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count jobs")
	}
	return n, nil
}

// EscapeLike escapes LIKE metacharacters so s matches literally.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return model.Unknown
	}
	return s
}
