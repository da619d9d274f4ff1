package http

import (
	"github.com/gofiber/fiber/v2"

	"newswire/internal/config"
)

// scrapeHandler creates and starts a scraping job. The job runs
// asynchronously; callers poll GET /api/jobs/:id for progress.
func scrapeHandler(c *fiber.Ctx) error {
	mgr := c.Locals("jobs").(JobManager)

	var req ScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "InvalidRequest", "body must be JSON with sources and maxArticles")
	}
	if req.MaxArticles == 0 {
		// Omitted maxArticles falls back to the configured default;
		// explicit bad values still fail validation below.
		if cfg, ok := c.Locals("config").(*config.Config); ok && cfg != nil {
			req.MaxArticles = cfg.Pipeline.DefaultArticlesPerSource
		}
	}

	job, err := mgr.CreateJob(c.Context(), req.Sources, req.MaxArticles)
	if err != nil {
		return respondError(c, err)
	}
	mgr.StartJob(job.ID)

	return c.Status(fiber.StatusAccepted).JSON(ScrapeResponse{JobID: job.ID.String()})
}
