package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"newswire/internal/jobs"
	"newswire/internal/metrics"
	"newswire/internal/model"
	"newswire/internal/sources"
	"newswire/internal/store"
)

// JobManager is the job-lifecycle surface the handlers call.
type JobManager interface {
	CreateJob(ctx context.Context, sourceRefs []string, articlesPerSource int) (model.ScrapingJob, error)
	StartJob(id uuid.UUID)
	CancelJob(ctx context.Context, id uuid.UUID) error
	GetJob(ctx context.Context, id uuid.UUID) (model.ScrapingJob, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]model.ScrapingJob, int, error)
	GetJobLogs(ctx context.Context, id uuid.UUID, f store.LogFilter) ([]model.ScrapingLog, int, error)
}

// SourceRegistry is the source CRUD surface.
type SourceRegistry interface {
	Create(ctx context.Context, in sources.CreateInput) (model.Source, error)
	Update(ctx context.Context, id uuid.UUID, in sources.UpdateInput) (model.Source, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (model.Source, error)
	List(ctx context.Context, page, pageSize int) ([]model.Source, int, error)
	Test(ctx context.Context, id uuid.UUID) (sources.TestResult, error)
}

// ContentStore is the article read surface.
type ContentStore interface {
	GetArticle(ctx context.Context, id uuid.UUID) (model.Article, error)
	ListArticles(ctx context.Context, f store.ArticleFilter) ([]model.Article, int, error)
}

// Dashboard produces the /api/metrics counters.
type Dashboard interface {
	Snapshot(ctx context.Context) (metrics.Dashboard, error)
}

// ScrapeRequest triggers a job. Sources accepts display names or ids.
type ScrapeRequest struct {
	Sources     []string `json:"sources"`
	MaxArticles int      `json:"maxArticles"`
}

// ScrapeResponse acknowledges an accepted job.
type ScrapeResponse struct {
	JobID string `json:"jobId"`
}

// ErrorBody is the uniform error envelope for every non-2xx response.
type ErrorBody struct {
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
	Details    any       `json:"details,omitempty"`
}

// ListEnvelope wraps every paginated response.
type ListEnvelope struct {
	Data     any  `json:"data"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasMore  bool `json:"hasMore"`
}

func listResponse(c *fiber.Ctx, data any, total, page, pageSize int) error {
	return c.Status(fiber.StatusOK).JSON(ListEnvelope{
		Data:     data,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  page*pageSize < total,
	})
}

// fail writes the uniform error envelope with an explicit status.
func fail(c *fiber.Ctx, status int, kind, message string) error {
	return c.Status(status).JSON(ErrorBody{
		Error:      kind,
		Message:    message,
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
	})
}

// respondError maps the engine's error taxonomy onto HTTP status codes.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest), errors.Is(err, store.ErrInvalidInput):
		return fail(c, fiber.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, sources.ErrInvalidFeed):
		return fail(c, fiber.StatusUnprocessableEntity, "InvalidRSSFeed", err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, store.ErrConflict):
		return fail(c, fiber.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, store.ErrTransient):
		return fail(c, fiber.StatusServiceUnavailable, "Transient", "temporary backend failure, retry shortly")
	default:
		return fail(c, fiber.StatusInternalServerError, "Internal", "internal server error")
	}
}

// parseID reads a UUID path parameter or fails the request.
func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fail(c, fiber.StatusBadRequest, "InvalidRequest", "invalid id: must be a UUID")
	}
	return id, nil
}

// parsePage reads page/pageSize query parameters; the store clamps them.
func parsePage(c *fiber.Ctx) (int, int) {
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("pageSize", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
