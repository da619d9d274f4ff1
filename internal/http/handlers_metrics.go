package http

import (
	"github.com/gofiber/fiber/v2"
)

// dashboardHandler returns the rolling-window dashboard counters. The
// aggregator caches results briefly, so polling UIs are cheap.
func dashboardHandler(c *fiber.Ctx) error {
	dash := c.Locals("dashboard").(Dashboard)

	snapshot, err := dash.Snapshot(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snapshot)
}
