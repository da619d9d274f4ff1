package http

import (
	"github.com/gofiber/fiber/v2"

	"newswire/internal/store"
)

// jobsListHandler returns one page of jobs, newest first, optionally
// filtered by status.
func jobsListHandler(c *fiber.Ctx) error {
	mgr := c.Locals("jobs").(JobManager)
	page, pageSize := parsePage(c)

	list, total, err := mgr.ListJobs(c.Context(), store.JobFilter{
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return respondError(c, err)
	}
	return listResponse(c, list, total, page, pageSize)
}

// jobDetailHandler returns one job.
func jobDetailHandler(c *fiber.Ctx) error {
	mgr := c.Locals("jobs").(JobManager)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	job, err := mgr.GetJob(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(job)
}

// jobLogsHandler returns one page of a job's logs, newest first. Optional
// level and eventType filters narrow the page.
func jobLogsHandler(c *fiber.Ctx) error {
	mgr := c.Locals("jobs").(JobManager)
	id, err := parseID(c)
	if err != nil {
		return err
	}
	page, pageSize := parsePage(c)

	logs, total, err := mgr.GetJobLogs(c.Context(), id, store.LogFilter{
		Level:     c.Query("level"),
		EventType: c.Query("eventType"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return respondError(c, err)
	}
	return listResponse(c, logs, total, page, pageSize)
}

// jobCancelHandler requests cooperative cancellation. Cancelling a terminal
// job is a 409.
func jobCancelHandler(c *fiber.Ctx) error {
	mgr := c.Locals("jobs").(JobManager)
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := mgr.CancelJob(c.Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"jobId": id.String(), "status": "cancellation requested"})
}
