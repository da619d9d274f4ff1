package metrics

import (
	"context"
	"math"
	"sync"
	"time"

	"newswire/internal/store"
)

// Dashboard is the counter set behind GET /api/metrics, computed over a
// rolling window of jobs.
type Dashboard struct {
	JobsTriggered      int     `json:"jobsTriggered"`
	SuccessRate        int     `json:"successRate"`
	ArticlesScraped    int     `json:"articlesScraped"`
	AverageJobDuration float64 `json:"averageJobDuration"`
	ActiveJobs         int     `json:"activeJobs"`
	RecentErrors       int     `json:"recentErrors"`
	WindowDays         int     `json:"windowDays"`
}

// DashboardStore is the aggregate-query slice of the persistence layer.
type DashboardStore interface {
	JobStatsSince(ctx context.Context, since time.Time) (store.JobWindowStats, error)
	CountActiveJobs(ctx context.Context) (int, error)
	CountFailedJobsSince(ctx context.Context, since time.Time) (int, error)
}

// Aggregator computes the dashboard with a short process-local cache so a
// polling UI does not hammer the aggregate queries.
type Aggregator struct {
	store  DashboardStore
	window time.Duration
	ttl    time.Duration

	mu        sync.Mutex
	cached    Dashboard
	fetchedAt time.Time
}

// NewAggregator builds an Aggregator. windowDays and ttl fall back to the
// documented defaults (7 days, 60s).
func NewAggregator(st DashboardStore, windowDays int, ttl time.Duration) *Aggregator {
	if windowDays <= 0 {
		windowDays = 7
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Aggregator{
		store:  st,
		window: time.Duration(windowDays) * 24 * time.Hour,
		ttl:    ttl,
	}
}

// Snapshot returns the dashboard, recomputing only when the cache has
// expired. Callers racing a recompute serialize on the mutex; the queries
// are cheap enough that this beats serving half-updated numbers.
func (a *Aggregator) Snapshot(ctx context.Context) (Dashboard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Since(a.fetchedAt) < a.ttl {
		return a.cached, nil
	}

	now := time.Now().UTC()
	stats, err := a.store.JobStatsSince(ctx, now.Add(-a.window))
	if err != nil {
		return Dashboard{}, err
	}
	active, err := a.store.CountActiveJobs(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	recentErrors, err := a.store.CountFailedJobsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		JobsTriggered:      stats.Triggered,
		ArticlesScraped:    stats.ArticlesScraped,
		AverageJobDuration: math.Round(stats.AvgDurationSeconds*10) / 10,
		ActiveJobs:         active,
		RecentErrors:       recentErrors,
		WindowDays:         int(a.window / (24 * time.Hour)),
	}
	if stats.Triggered > 0 {
		d.SuccessRate = int(math.Round(float64(stats.Successful) / float64(stats.Triggered) * 100))
	}

	a.cached = d
	a.fetchedAt = now
	return d, nil
}

// Invalidate drops the cache so the next Snapshot recomputes. Test helper.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.fetchedAt = time.Time{}
	a.mu.Unlock()
}
