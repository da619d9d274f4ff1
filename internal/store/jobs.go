package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"newswire/internal/model"
)

const jobColumns = `
id, status, triggered_at, completed_at, sources_requested, articles_per_source,
total_sources, sources_completed, total_articles_scraped, total_errors,
progress_percent, current_source, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.ScrapingJob, error) {
	var (
		j             model.ScrapingJob
		completedAt   sql.NullTime
		requested     pq.StringArray
		currentSource sql.NullString
	)
	err := row.Scan(&j.ID, &j.Status, &j.TriggeredAt, &completedAt, &requested,
		&j.ArticlesPerSource, &j.TotalSources, &j.SourcesCompleted,
		&j.TotalArticlesScraped, &j.TotalErrors, &j.ProgressPercent,
		&currentSource, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return model.ScrapingJob{}, err
	}
	j.SourcesRequested = []string(requested)
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if currentSource.Valid {
		s := currentSource.String
		j.CurrentSource = &s
	}
	return j, nil
}

// CreateJobWithLog inserts the job row and its initial log in one
// transaction. On failure neither exists.
func (s *Store) CreateJobWithLog(ctx context.Context, job *model.ScrapingJob, entry LogEntry) error {
	return s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO scraping_jobs
  (id, status, triggered_at, sources_requested, articles_per_source, total_sources, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
				job.ID, job.Status, job.TriggeredAt, pq.Array(job.SourcesRequested),
				job.ArticlesPerSource, job.TotalSources, job.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			return insertLog(ctx, tx, job.ID, entry)
		})
	})
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (model.ScrapingJob, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT"+jobColumns+" FROM scraping_jobs WHERE id = $1", id)
	j, err := scanJob(row)
	if err != nil {
		return model.ScrapingJob{}, classify(fmt.Errorf("get job %s: %w", id, err))
	}
	return j, nil
}

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	Status   string
	Page     int
	PageSize int
}

// ListJobs returns one page of jobs, most recently triggered first, plus the
// total row count for the filter.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]model.ScrapingJob, int, error) {
	page, pageSize := normalizePage(f.Page, f.PageSize)

	where := ""
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		where = "WHERE status = $1"
	}

	var total int
	if err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scraping_jobs "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("count jobs: %w", err))
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(
		"SELECT"+jobColumns+" FROM scraping_jobs %s ORDER BY triggered_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("list jobs: %w", err))
	}
	defer rows.Close()

	jobs := make([]model.ScrapingJob, 0, pageSize)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, classify(fmt.Errorf("scan job: %w", err))
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return jobs, total, nil
}

// MarkJobRunning transitions new → in-progress. It returns ErrConflict when
// the job is not in `new` anymore, which makes StartJob idempotent for
// callers that treat the conflict as "already started".
func (s *Store) MarkJobRunning(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, func() error {
		res, err := s.DB.ExecContext(ctx, `
UPDATE scraping_jobs SET status = 'in-progress', updated_at = now()
WHERE id = $1 AND status = 'new'`, id)
		if err != nil {
			return classify(fmt.Errorf("mark job running: %w", err))
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: job %s is not new", ErrConflict, id)
		}
		return nil
	})
}

// ProgressDelta is one batch of counter movement for a running job. Counter
// fields are increments; ProgressPercent is absolute and only ever raises the
// stored value, keeping progress monotone under concurrent source updates.
type ProgressDelta struct {
	SourcesCompleted int
	ArticlesScraped  int
	Errors           int
	ProgressPercent  int
	CurrentSource    *string
}

// ApplyJobProgress folds a delta into a running job's counters. Updates are
// silently dropped once the job has left in-progress, so a cancelled or
// recovered job is never mutated by stragglers.
func (s *Store) ApplyJobProgress(ctx context.Context, id uuid.UUID, d ProgressDelta) error {
	return s.withRetry(ctx, func() error {
		_, err := s.DB.ExecContext(ctx, `
UPDATE scraping_jobs SET
  sources_completed      = sources_completed + $2,
  total_articles_scraped = total_articles_scraped + $3,
  total_errors           = total_errors + $4,
  progress_percent       = GREATEST(progress_percent, $5),
  current_source         = COALESCE($6, current_source),
  updated_at             = now()
WHERE id = $1 AND status = 'in-progress'`,
			id, d.SourcesCompleted, d.ArticlesScraped, d.Errors, d.ProgressPercent, d.CurrentSource)
		if err != nil {
			return classify(fmt.Errorf("apply job progress: %w", err))
		}
		return nil
	})
}

// FinishJobWithLog moves a job to a terminal status, stamps completed_at and
// writes the terminal log, all in one transaction. Only non-terminal jobs
// qualify; the loser of a finish/cancel race gets ErrConflict and must not
// write anything else.
func (s *Store) FinishJobWithLog(ctx context.Context, id uuid.UUID, status string, entry LogEntry) error {
	return s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
UPDATE scraping_jobs SET
  status           = $2,
  completed_at     = now(),
  progress_percent = CASE WHEN $2 = 'cancelled' THEN progress_percent ELSE 100 END,
  current_source   = NULL,
  updated_at       = now()
WHERE id = $1 AND status IN ('new', 'in-progress')`, id, status)
			if err != nil {
				return fmt.Errorf("finish job: %w", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return fmt.Errorf("%w: job %s already terminal", ErrConflict, id)
			}
			return insertLog(ctx, tx, id, entry)
		})
	})
}

// ListStuckJobs returns non-terminal jobs triggered before cutoff, oldest
// first. Startup recovery walks these.
func (s *Store) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.ScrapingJob, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT"+jobColumns+` FROM scraping_jobs
WHERE status IN ('new', 'in-progress') AND triggered_at < $1
ORDER BY triggered_at ASC`, cutoff)
	if err != nil {
		return nil, classify(fmt.Errorf("list stuck jobs: %w", err))
	}
	defer rows.Close()

	var jobs []model.ScrapingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, classify(fmt.Errorf("scan stuck job: %w", err))
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return jobs, nil
}

// CountActiveJobsReferencingSource reports how many non-terminal jobs
// requested the given source. Source deletion is refused while this is > 0.
func (s *Store) CountActiveJobsReferencingSource(ctx context.Context, sourceID uuid.UUID) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM scraping_jobs
WHERE status IN ('new', 'in-progress') AND $1 = ANY (sources_requested)`,
		sourceID.String()).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count jobs referencing source: %w", err))
	}
	return n, nil
}
