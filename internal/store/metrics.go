package store

import (
	"context"
	"fmt"
	"time"
)

// JobWindowStats are the raw aggregates the dashboard derives its counters
// from, computed over jobs triggered since a cutoff.
type JobWindowStats struct {
	Triggered          int
	Successful         int
	ArticlesScraped    int
	AvgDurationSeconds float64
}

// JobStatsSince aggregates job counters over one window in a single query.
func (s *Store) JobStatsSince(ctx context.Context, since time.Time) (JobWindowStats, error) {
	var st JobWindowStats
	err := s.DB.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE status = 'successful'),
  COALESCE(SUM(total_articles_scraped), 0),
  COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - triggered_at)))
           FILTER (WHERE completed_at IS NOT NULL), 0)
FROM scraping_jobs
WHERE triggered_at >= $1`, since).
		Scan(&st.Triggered, &st.Successful, &st.ArticlesScraped, &st.AvgDurationSeconds)
	if err != nil {
		return JobWindowStats{}, classify(fmt.Errorf("job stats: %w", err))
	}
	return st, nil
}

// CountActiveJobs returns the number of non-terminal jobs right now.
func (s *Store) CountActiveJobs(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scraping_jobs WHERE status IN ('new', 'in-progress')").Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count active jobs: %w", err))
	}
	return n, nil
}

// CountFailedJobsSince returns the number of jobs that reached failed after
// the cutoff, by completion time.
func (s *Store) CountFailedJobsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM scraping_jobs
WHERE status = 'failed' AND completed_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count failed jobs: %w", err))
	}
	return n, nil
}
