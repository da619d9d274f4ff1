// Package pipeline drives one scraping job from in-progress to done: sources
// fan out under a bounded pool, each source's articles flow through a
// job-wide bounded fetch pool, and every unit of work has its own error
// boundary so one bad source or page never takes down the rest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"newswire/internal/extract"
	"newswire/internal/feed"
	"newswire/internal/joblog"
	"newswire/internal/metrics"
	"newswire/internal/model"
	"newswire/internal/scraper"
	"newswire/internal/store"
)

// Store is the slice of the persistence layer the pipeline writes through.
type Store interface {
	InsertArticleWithLog(ctx context.Context, jobID uuid.UUID, a *model.Article, entry store.LogEntry) (bool, error)
	ApplyJobProgress(ctx context.Context, id uuid.UUID, d store.ProgressDelta) error
}

// FeedFetcher retrieves and parses one RSS feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, rssURL, userAgent string) (*feed.Feed, error)
}

// ArticleFetcher GETs one article page.
type ArticleFetcher interface {
	Fetch(ctx context.Context, req scraper.Request) (*scraper.Result, error)
}

// RobotsGate answers whether a URL may be fetched for a user agent.
type RobotsGate interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Extractor turns article HTML into cleaned content.
type Extractor interface {
	Extract(pageHTML, pageURL string) (*extract.Result, error)
}

// Config bounds one pipeline instance. Both pools are per job; memory use
// scales with these caps, never with the number of requested URLs.
type Config struct {
	SourceConcurrency  int
	ArticleConcurrency int
	DefaultDelay       time.Duration
	ArticleTimeout     time.Duration
	KeepFullHTML       bool
}

// Outcome summarizes one run for the job manager's terminal aggregation.
// A source "succeeded" when its feed was retrieved and at least one article
// was handled (persisted or absorbed as a duplicate).
type Outcome struct {
	SourcesSucceeded int
	SourcesFailed    int
	ArticlesSaved    int
	Errors           int
	Cancelled        bool
}

// Pipeline holds the collaborators shared by every job run. It is stateless
// across runs and safe for concurrent use.
type Pipeline struct {
	store   Store
	feeds   FeedFetcher
	fetcher ArticleFetcher
	robots  RobotsGate
	extract Extractor
	logger  *slog.Logger
	cfg     Config
}

// New wires a Pipeline. Zero config values fall back to the documented
// defaults (4 sources, 3 article fetches, 1s politeness delay).
func New(st Store, feeds FeedFetcher, fetcher ArticleFetcher, robots RobotsGate, ex Extractor, logger *slog.Logger, cfg Config) *Pipeline {
	if cfg.SourceConcurrency <= 0 {
		cfg.SourceConcurrency = 4
	}
	if cfg.ArticleConcurrency <= 0 {
		cfg.ArticleConcurrency = 3
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = time.Second
	}
	if cfg.ArticleTimeout <= 0 {
		cfg.ArticleTimeout = 30 * time.Second
	}
	return &Pipeline{
		store:   st,
		feeds:   feeds,
		fetcher: fetcher,
		robots:  robots,
		extract: ex,
		logger:  logger,
		cfg:     cfg,
	}
}

// run carries the mutable state of one job execution. Counters are atomics
// because sources and articles complete on different goroutines.
type run struct {
	p   *Pipeline
	job model.ScrapingJob
	rec *joblog.Recorder

	totalSources     int
	expectedArticles int64
	artSem           chan struct{}

	sourcesDone     atomic.Int64
	articlesHandled atomic.Int64
	articlesSaved   atomic.Int64
	errorCount      atomic.Int64

	milestoneMu sync.Mutex
	milestone   int
}

// Run executes the job over the given sources and blocks until every source
// has settled or cancellation has drained the pools. The caller owns the job
// row; Run only moves counters and writes logs.
func (p *Pipeline) Run(ctx context.Context, job model.ScrapingJob, sources []model.Source, rec *joblog.Recorder) Outcome {
	r := &run{
		p:                p,
		job:              job,
		rec:              rec,
		totalSources:     len(sources),
		expectedArticles: int64(job.ArticlesPerSource) * int64(len(sources)),
		artSem:           make(chan struct{}, p.cfg.ArticleConcurrency),
	}

	srcSem := make(chan struct{}, p.cfg.SourceConcurrency)
	results := make(chan sourceResult, len(sources))
	var wg sync.WaitGroup

	for _, src := range sources {
		select {
		case <-ctx.Done():
		case srcSem <- struct{}{}:
			wg.Add(1)
			go func(src model.Source) {
				defer wg.Done()
				defer func() { <-srcSem }()
				results <- r.runSource(ctx, src)
			}(src)
		}
		if ctx.Err() != nil {
			break
		}
	}
	wg.Wait()
	close(results)

	out := Outcome{
		ArticlesSaved: int(r.articlesSaved.Load()),
		Errors:        int(r.errorCount.Load()),
		Cancelled:     ctx.Err() != nil,
	}
	for res := range results {
		if res.succeeded {
			out.SourcesSucceeded++
		} else {
			out.SourcesFailed++
		}
	}
	// Sources never reached because cancellation stopped the fan-out.
	out.SourcesFailed += len(sources) - out.SourcesSucceeded - out.SourcesFailed

	return out
}

type sourceResult struct {
	succeeded bool
}

// runSource processes one source end to end under its own error boundary.
// The politeness limiter covers the RSS request too; it is the source's
// first request.
func (r *run) runSource(ctx context.Context, src model.Source) (res sourceResult) {
	srec := r.rec.ForSource(src.ID)

	defer func() {
		if rec := recover(); rec != nil {
			r.p.logger.Error("source panic",
				"job_id", r.job.ID, "source", src.Name, "panic", rec,
				"stack", string(debug.Stack()))
			r.errorCount.Add(1)
			srec.Error(ctx, fmt.Sprintf("Source %s crashed", src.Name), joblog.Event{
				Type:         joblog.TypeError,
				Name:         joblog.EventSourceFailed,
				ErrorType:    "panic",
				ErrorMessage: fmt.Sprint(rec),
			})
			r.finishSource(ctx, src)
			res = sourceResult{}
		}
	}()

	delay := time.Duration(src.DelayMs) * time.Millisecond
	if delay <= 0 {
		delay = r.p.cfg.DefaultDelay
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	srec.Info(ctx, fmt.Sprintf("Processing source %s", src.Name), joblog.Event{
		Type: joblog.TypeLifecycle,
		Name: joblog.EventSourceStarted,
		URL:  src.RSSURL,
	})

	if err := limiter.Wait(ctx); err != nil {
		return sourceResult{}
	}

	started := time.Now()
	parsed, err := r.p.feeds.Fetch(ctx, src.RSSURL, src.UserAgent)
	if err != nil {
		if ctx.Err() != nil {
			return sourceResult{}
		}
		r.errorCount.Add(1)
		metrics.RecordSourceFetchFailure()
		srec.Error(ctx, fmt.Sprintf("RSS fetch failed for %s", src.Name), joblog.Event{
			Type:         joblog.TypeHTTP,
			Name:         joblog.EventSourceFailed,
			URL:          src.RSSURL,
			HTTPStatus:   feed.HTTPStatus(err),
			LatencyMs:    time.Since(started).Milliseconds(),
			ErrorType:    "rss_fetch_failed",
			ErrorMessage: err.Error(),
		})
		r.finishSource(ctx, src)
		return sourceResult{}
	}

	items := parsed.Items
	if len(items) > r.job.ArticlesPerSource {
		items = items[:r.job.ArticlesPerSource]
	}
	srec.Info(ctx, fmt.Sprintf("Parsed feed for %s", src.Name), joblog.Event{
		Type:           joblog.TypeHTTP,
		Name:           joblog.EventRSSParsed,
		URL:            src.RSSURL,
		LatencyMs:      time.Since(started).Milliseconds(),
		FeedTitle:      parsed.Title,
		TotalItems:     joblog.Int(len(parsed.Items)),
		ItemsToProcess: joblog.Int(len(items)),
	})

	handled := 0
	for _, item := range items {
		// Enqueue into the job-wide article pool; within the source the
		// limiter spaces requests regardless of pool capacity.
		select {
		case <-ctx.Done():
			r.finishSource(ctx, src)
			return sourceResult{succeeded: handled > 0}
		case r.artSem <- struct{}{}:
		}

		if err := limiter.Wait(ctx); err != nil {
			<-r.artSem
			r.finishSource(ctx, src)
			return sourceResult{succeeded: handled > 0}
		}
		if r.processArticle(ctx, src, item, srec) {
			handled++
		}
		<-r.artSem
	}

	r.finishSource(ctx, src)
	srec.Info(ctx, fmt.Sprintf("Finished source %s", src.Name), joblog.Event{
		Type:  joblog.TypeLifecycle,
		Name:  joblog.EventSourceCompleted,
		Extra: map[string]any{"articles_handled": handled},
	})
	if handled == 0 && len(items) > 0 {
		srec.Error(ctx, fmt.Sprintf("No articles could be scraped from %s", src.Name), joblog.Event{
			Type:      joblog.TypeError,
			Name:      joblog.EventSourceFailed,
			ErrorType: "all_articles_failed",
		})
	}
	return sourceResult{succeeded: handled > 0}
}

// processArticle fetches, extracts and persists one URL. It reports whether
// the article was handled (saved or recognized as a duplicate); failures are
// logged and counted but never propagate.
func (r *run) processArticle(ctx context.Context, src model.Source, item feed.Item, srec *joblog.Recorder) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.p.logger.Error("article panic",
				"job_id", r.job.ID, "url", item.URL, "panic", rec,
				"stack", string(debug.Stack()))
			r.addError(ctx, src)
			handled = false
		}
	}()

	if ctx.Err() != nil {
		return false
	}

	if src.RespectRobotsTxt && !r.p.robots.Allowed(ctx, item.URL, src.UserAgent) {
		r.addError(ctx, src)
		srec.Warn(ctx, "URL disallowed by robots.txt", joblog.Event{
			Type: joblog.TypeHTTP,
			Name: joblog.EventRobotsDisallowed,
			URL:  item.URL,
		})
		return false
	}

	timeout := time.Duration(src.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = r.p.cfg.ArticleTimeout
	}
	result, err := r.p.fetcher.Fetch(ctx, scraper.Request{
		URL:       item.URL,
		UserAgent: src.UserAgent,
		Timeout:   timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		ev := joblog.Event{
			Type:         joblog.TypeHTTP,
			Name:         joblog.EventArticleFetchFail,
			URL:          item.URL,
			ErrorType:    "fetch_failed",
			ErrorMessage: err.Error(),
		}
		var httpErr *scraper.HTTPError
		if errors.As(err, &httpErr) {
			ev.HTTPStatus = httpErr.StatusCode
			ev.ErrorType = "http_error"
		}
		if result != nil {
			ev.LatencyMs = result.LatencyMs
		}
		r.addError(ctx, src)
		metrics.RecordSourceFetchFailure()
		srec.Error(ctx, fmt.Sprintf("Failed to fetch %s", item.URL), ev)
		return false
	}

	extracted, err := r.p.extract.Extract(result.HTML, item.URL)
	if err != nil {
		r.addError(ctx, src)
		metrics.RecordExtractionFailure()
		srec.Warn(ctx, fmt.Sprintf("No usable content in %s", item.URL), joblog.Event{
			Type:         joblog.TypeExtraction,
			Name:         joblog.EventExtractionFailed,
			URL:          item.URL,
			ErrorType:    "extraction_failed",
			ErrorMessage: err.Error(),
		})
		return false
	}

	title := extracted.Title
	if title == "" {
		title = item.Title
	}
	author := extracted.Author
	if author == "" {
		author = item.Author
	}
	published := extracted.Published
	if published == nil {
		published = item.Published
	}

	// A cancelled job discards in-flight results instead of persisting them.
	if ctx.Err() != nil {
		return false
	}

	article := &model.Article{
		ID:               uuid.New(),
		SourceID:         src.ID,
		SourceURL:        item.URL,
		Title:            title,
		Content:          extracted.Content,
		ContentType:      "article",
		Language:         extracted.Language,
		ProcessingStatus: "completed",
		ContentHash:      extract.ContentHash(title, extracted.Content),
		CreatedAt:        time.Now().UTC(),
	}
	if author != "" {
		article.Author = &author
	}
	article.PublicationDate = published
	if r.p.cfg.KeepFullHTML {
		html := result.HTML
		article.FullHTML = &html
	}

	entry := srec.Entry(joblog.LevelInfo, fmt.Sprintf("Saved article %q", title), joblog.Event{
		Type:          joblog.TypePersistence,
		Name:          joblog.EventArticleSaved,
		URL:           item.URL,
		HTTPStatus:    result.Status,
		LatencyMs:     result.LatencyMs,
		Language:      extracted.Language,
		ContentLength: len(extracted.Content),
		Extra:         map[string]any{"strategy": extracted.Strategy},
	})
	inserted, err := r.p.store.InsertArticleWithLog(ctx, r.job.ID, article, entry)
	if err != nil {
		r.addError(ctx, src)
		srec.Error(ctx, fmt.Sprintf("Failed to persist %s", item.URL), joblog.Event{
			Type:         joblog.TypePersistence,
			Name:         joblog.EventArticleFetchFail,
			URL:          item.URL,
			ErrorType:    "persistence_failed",
			ErrorMessage: err.Error(),
		})
		return false
	}
	if !inserted {
		metrics.RecordDuplicatesAbsorbed(1)
		srec.Info(ctx, fmt.Sprintf("Duplicate skipped: %s", item.URL), joblog.Event{
			Type: joblog.TypePersistence,
			Name: joblog.EventDuplicateSkipped,
			URL:  item.URL,
		})
		r.articlesHandled.Add(1)
		r.pushProgress(ctx, src, store.ProgressDelta{})
		return true
	}

	r.articlesSaved.Add(1)
	r.articlesHandled.Add(1)
	r.pushProgress(ctx, src, store.ProgressDelta{ArticlesScraped: 1})
	return true
}

// addError bumps the error counter and folds it into the job row.
func (r *run) addError(ctx context.Context, src model.Source) {
	r.errorCount.Add(1)
	r.pushProgress(ctx, src, store.ProgressDelta{Errors: 1})
}

// finishSource marks one source done in the progress model.
func (r *run) finishSource(ctx context.Context, src model.Source) {
	r.sourcesDone.Add(1)
	r.pushProgress(ctx, src, store.ProgressDelta{SourcesCompleted: 1})
}

// progressPercent mixes source completion (30%) with article completion
// (70%), clamped to [0,100]. expectedArticles is the requested ceiling, so a
// feed that yields fewer items leaves headroom the source term covers.
func (r *run) progressPercent() int {
	var p float64
	if r.totalSources > 0 {
		p += 0.3 * float64(r.sourcesDone.Load()) / float64(r.totalSources)
	}
	if r.expectedArticles > 0 {
		p += 0.7 * float64(r.articlesHandled.Load()) / float64(r.expectedArticles)
	}
	pct := int(p * 100)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// pushProgress writes counter movement plus the recomputed percent and emits
// milestone logs when the percent crosses a quarter boundary.
func (r *run) pushProgress(ctx context.Context, src model.Source, d store.ProgressDelta) {
	pct := r.progressPercent()
	d.ProgressPercent = pct
	name := src.Name
	d.CurrentSource = &name

	if err := r.p.store.ApplyJobProgress(ctx, r.job.ID, d); err != nil && ctx.Err() == nil {
		r.p.logger.Error("progress update failed", "job_id", r.job.ID, "error", err)
	}

	r.milestoneMu.Lock()
	crossed := 0
	for _, m := range []int{25, 50, 75, 100} {
		if pct >= m && r.milestone < m {
			crossed = m
		}
	}
	if crossed > 0 {
		r.milestone = crossed
	}
	r.milestoneMu.Unlock()

	if crossed > 0 {
		r.rec.Info(ctx, fmt.Sprintf("Job %d%% complete", crossed), joblog.Event{
			Type:  joblog.TypePerformance,
			Name:  joblog.EventProgressUpdate,
			Extra: map[string]any{"progress_percent": crossed},
		})
	}
}
