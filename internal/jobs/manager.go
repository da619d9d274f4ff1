// Package jobs owns the scraping job lifecycle: creation, dispatch,
// cancellation, terminal aggregation and startup recovery. The Manager is
// the only writer of job rows while a job is in flight.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"newswire/internal/joblog"
	"newswire/internal/metrics"
	"newswire/internal/model"
	"newswire/internal/pipeline"
	"newswire/internal/store"
)

// ErrInvalidRequest marks validation failures at the trigger boundary. The
// API surfaces these to the caller; they are never engine errors.
var ErrInvalidRequest = errors.New("invalid request")

// Store is the persistence slice the manager depends on.
type Store interface {
	CreateJobWithLog(ctx context.Context, job *model.ScrapingJob, entry store.LogEntry) error
	MarkJobRunning(ctx context.Context, id uuid.UUID) error
	GetJob(ctx context.Context, id uuid.UUID) (model.ScrapingJob, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]model.ScrapingJob, int, error)
	ListJobLogs(ctx context.Context, jobID uuid.UUID, f store.LogFilter) ([]model.ScrapingLog, int, error)
	FinishJobWithLog(ctx context.Context, id uuid.UUID, status string, entry store.LogEntry) error
	ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.ScrapingJob, error)
	AppendLog(ctx context.Context, jobID uuid.UUID, e store.LogEntry) error
	GetSource(ctx context.Context, id uuid.UUID) (model.Source, error)
	GetSourceByName(ctx context.Context, name string) (model.Source, error)
	GetSourcesByIDs(ctx context.Context, ids []string) ([]model.Source, error)
}

// Runner executes one job's scraping work. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, job model.ScrapingJob, sources []model.Source, rec *joblog.Recorder) pipeline.Outcome
}

// Config bounds the manager.
type Config struct {
	// MaxConcurrentJobs caps jobs running at once so N triggers cannot
	// starve the shared connection pool.
	MaxConcurrentJobs int
	// StuckThreshold is how old a non-terminal job must be before startup
	// recovery declares it orphaned.
	StuckThreshold time.Duration
}

type jobHandle struct {
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

// Manager coordinates job execution. One instance per process.
type Manager struct {
	store  Store
	runner Runner
	logger *slog.Logger
	cfg    Config

	ctx     context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[uuid.UUID]*jobHandle
}

// NewManager builds a Manager. Shutdown must be called to drain running jobs.
func NewManager(st Store, runner Runner, logger *slog.Logger, cfg Config) *Manager {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 5
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   st,
		runner:  runner,
		logger:  logger,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, cfg.MaxConcurrentJobs),
		running: make(map[uuid.UUID]*jobHandle),
	}
}

// CreateJob validates the trigger, resolves source references and persists
// the job row together with its "Job created" log in one transaction. The
// job is not started; callers pair this with StartJob.
func (m *Manager) CreateJob(ctx context.Context, sourceRefs []string, articlesPerSource int) (model.ScrapingJob, error) {
	if len(sourceRefs) == 0 {
		return model.ScrapingJob{}, fmt.Errorf("%w: sources must not be empty", ErrInvalidRequest)
	}
	if articlesPerSource < 1 {
		return model.ScrapingJob{}, fmt.Errorf("%w: maxArticles must be at least 1", ErrInvalidRequest)
	}

	sources, err := m.resolveSources(ctx, sourceRefs)
	if err != nil {
		return model.ScrapingJob{}, err
	}

	ids := make([]string, len(sources))
	names := make([]string, len(sources))
	for i, src := range sources {
		ids[i] = src.ID.String()
		names[i] = src.Name
	}

	now := time.Now().UTC()
	job := model.ScrapingJob{
		ID:                uuid.New(),
		Status:            string(StatusNew),
		TriggeredAt:       now,
		SourcesRequested:  ids,
		ArticlesPerSource: articlesPerSource,
		TotalSources:      len(sources),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	rec := joblog.NewRecorder(m.store, m.logger, job.ID, uuid.New().String())
	entry := rec.Entry(joblog.LevelInfo, "Job created", joblog.Event{
		Type:       joblog.TypeLifecycle,
		Name:       joblog.EventJobCreated,
		TotalItems: joblog.Int(len(sources)),
		Extra:      map[string]any{"sources": names, "articles_per_source": articlesPerSource},
	})
	if err := m.store.CreateJobWithLog(ctx, &job, entry); err != nil {
		return model.ScrapingJob{}, fmt.Errorf("create job: %w", err)
	}
	m.logger.Info("job created", "job_id", job.ID, "sources", len(sources),
		"articles_per_source", articlesPerSource)
	return job, nil
}

// resolveSources maps trigger references (display names or UUID strings) to
// active sources. Any unknown or inactive reference fails the whole trigger.
func (m *Manager) resolveSources(ctx context.Context, refs []string) ([]model.Source, error) {
	sources := make([]model.Source, 0, len(refs))
	seen := make(map[uuid.UUID]struct{}, len(refs))
	for _, ref := range refs {
		var (
			src model.Source
			err error
		)
		if id, parseErr := uuid.Parse(ref); parseErr == nil {
			src, err = m.store.GetSource(ctx, id)
		} else {
			src, err = m.store.GetSourceByName(ctx, ref)
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, ref)
			}
			return nil, fmt.Errorf("resolve source %q: %w", ref, err)
		}
		if !src.IsActive {
			return nil, fmt.Errorf("%w: source %q is not active", ErrInvalidRequest, ref)
		}
		if _, dup := seen[src.ID]; dup {
			continue
		}
		seen[src.ID] = struct{}{}
		sources = append(sources, src)
	}
	return sources, nil
}

// StartJob dispatches a job onto the bounded execution pool. It is
// asynchronous and idempotent: a job that already left `new` is left alone.
func (m *Manager) StartJob(id uuid.UUID) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.ctx.Done():
			return
		case m.sem <- struct{}{}:
		}
		defer func() { <-m.sem }()
		m.execute(id)
	}()
}

func (m *Manager) execute(id uuid.UUID) {
	if err := m.store.MarkJobRunning(m.ctx, id); err != nil {
		// Conflict means another dispatch won or the job is terminal;
		// idempotent start treats that as done.
		if !errors.Is(err, store.ErrConflict) {
			m.logger.Error("job start failed", "job_id", id, "error", err)
		}
		return
	}

	job, err := m.store.GetJob(m.ctx, id)
	if err != nil {
		m.logger.Error("job load failed after start", "job_id", id, "error", err)
		return
	}

	sources, err := m.store.GetSourcesByIDs(m.ctx, job.SourcesRequested)
	if err != nil {
		m.logger.Error("source load failed after start", "job_id", id, "error", err)
		sources = nil
	}
	if len(sources) < len(job.SourcesRequested) {
		// Sources deleted between trigger and dispatch run as failures of
		// the remaining set, not as a crashed job.
		m.logger.Warn("requested sources vanished",
			"job_id", id, "requested", len(job.SourcesRequested), "found", len(sources))
	}

	jobCtx, cancelJob := context.WithCancel(m.ctx)
	defer cancelJob()

	handle := &jobHandle{cancel: cancelJob}
	m.mu.Lock()
	m.running[id] = handle
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	rec := joblog.NewRecorder(m.store, m.logger, id, uuid.New().String())
	rec.Info(jobCtx, "Job started", joblog.Event{
		Type:       joblog.TypeLifecycle,
		Name:       joblog.EventJobStarted,
		TotalItems: joblog.Int(len(sources)),
	})

	out := m.runner.Run(jobCtx, job, sources, rec)
	m.finish(id, handle, out, rec)
}

// finish settles the terminal state. It runs on a fresh context because the
// job context is usually already cancelled on the cancellation path.
func (m *Manager) finish(id uuid.UUID, handle *jobHandle, out pipeline.Outcome, rec *joblog.Recorder) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cancelled := handle.cancelRequested.Load() || out.Cancelled
	status := decideStatus(out, cancelled)

	eventName := joblog.EventJobCompleted
	message := fmt.Sprintf("Job finished: %d articles, %d errors", out.ArticlesSaved, out.Errors)
	if status == StatusCancelled {
		eventName = joblog.EventJobCancelled
		message = "Job cancelled"
	}
	entry := rec.Entry(joblog.LevelInfo, message, joblog.Event{
		Type: joblog.TypeLifecycle,
		Name: eventName,
		Extra: map[string]any{
			"status":             string(status),
			"sources_succeeded":  out.SourcesSucceeded,
			"sources_failed":     out.SourcesFailed,
			"articles_persisted": out.ArticlesSaved,
			"errors":             out.Errors,
		},
	})

	if err := m.store.FinishJobWithLog(ctx, id, string(status), entry); err != nil {
		// Losing the finish race (e.g. recovery already failed the job) is
		// not an error worth more than a debug line.
		if errors.Is(err, store.ErrConflict) {
			m.logger.Debug("job already terminal at finish", "job_id", id)
			return
		}
		m.logger.Error("job finish failed", "job_id", id, "status", status, "error", err)
		return
	}
	metrics.RecordJobCompleted(string(status))
	metrics.RecordArticlesPersisted(int64(out.ArticlesSaved))
	m.logger.Info("job finished", "job_id", id, "status", status,
		"articles", out.ArticlesSaved, "errors", out.Errors)
}

// decideStatus aggregates per-source outcomes into the terminal status.
// Duplicate-absorbed articles count toward a source's success, so a rerun
// over already-scraped feeds still settles successful.
func decideStatus(out pipeline.Outcome, cancelled bool) Status {
	switch {
	case cancelled:
		return StatusCancelled
	case out.SourcesSucceeded == 0:
		return StatusFailed
	case out.SourcesFailed > 0:
		return StatusPartial
	default:
		return StatusSuccessful
	}
}

// CancelJob requests cooperative cancellation. For a job running in this
// process the pipeline observes the signal at its next suspension point; a
// job that exists only as a row (never started, or orphaned by a crash) is
// settled directly. Terminal jobs return store.ErrConflict.
func (m *Manager) CancelJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	handle := m.running[id]
	m.mu.Unlock()
	if handle != nil {
		handle.cancelRequested.Store(true)
		handle.cancel()
		m.logger.Info("job cancellation requested", "job_id", id)
		return nil
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if Status(job.Status).Terminal() {
		return fmt.Errorf("%w: job %s is already %s", store.ErrConflict, id, job.Status)
	}

	rec := joblog.NewRecorder(m.store, m.logger, id, uuid.New().String())
	entry := rec.Entry(joblog.LevelInfo, "Job cancelled", joblog.Event{
		Type: joblog.TypeLifecycle,
		Name: joblog.EventJobCancelled,
	})
	if err := m.store.FinishJobWithLog(ctx, id, string(StatusCancelled), entry); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: job %s is already terminal", store.ErrConflict, id)
		}
		return err
	}
	metrics.RecordJobCompleted(string(StatusCancelled))
	m.logger.Info("job cancelled", "job_id", id)
	return nil
}

// GetJob returns one job.
func (m *Manager) GetJob(ctx context.Context, id uuid.UUID) (model.ScrapingJob, error) {
	return m.store.GetJob(ctx, id)
}

// ListJobs returns one page of jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context, f store.JobFilter) ([]model.ScrapingJob, int, error) {
	if f.Status != "" && !Status(f.Status).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, f.Status)
	}
	return m.store.ListJobs(ctx, f)
}

// GetJobLogs returns one page of a job's logs, newest first. The job must
// exist so a bad id is a 404 rather than an empty page.
func (m *Manager) GetJobLogs(ctx context.Context, id uuid.UUID, f store.LogFilter) ([]model.ScrapingLog, int, error) {
	if _, err := m.store.GetJob(ctx, id); err != nil {
		return nil, 0, err
	}
	return m.store.ListJobLogs(ctx, id, f)
}

// RecoverOrphans fails every non-terminal job older than the stuck
// threshold. Called once at startup before the API accepts triggers; this is
// the only path that moves a job terminal without the pipeline.
func (m *Manager) RecoverOrphans(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.cfg.StuckThreshold)
	stuck, err := m.store.ListStuckJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stuck jobs: %w", err)
	}

	recovered := 0
	for _, job := range stuck {
		rec := joblog.NewRecorder(m.store, m.logger, job.ID, uuid.New().String())
		entry := rec.Entry(joblog.LevelWarning,
			fmt.Sprintf("Job stuck in %s since %s, marked failed",
				job.Status, job.TriggeredAt.Format(time.RFC3339)),
			joblog.Event{
				Type:  joblog.TypeLifecycle,
				Name:  joblog.EventStuckJobRecovery,
				Extra: map[string]any{"previous_status": job.Status},
			})
		if err := m.store.FinishJobWithLog(ctx, job.ID, string(StatusFailed), entry); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return recovered, fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		recovered++
		metrics.RecordJobCompleted(string(StatusFailed))
		m.logger.Warn("recovered stuck job", "job_id", job.ID, "previous_status", job.Status)
	}
	return recovered, nil
}

// Shutdown stops accepting dispatches, cancels running jobs and waits for
// them to settle or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
