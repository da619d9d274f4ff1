package http

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"newswire/internal/metrics"
)

// requestMiddleware assigns a request id, logs the request and feeds the
// process metrics. The id is echoed back so the UI can correlate.
func requestMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, c.Route().Path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	}
}

// scrapeRateLimit enforces a per-minute fixed window per client IP on the
// job trigger. Active only when Redis is configured; a Redis outage fails
// open because the trigger must not depend on the limiter's availability.
func scrapeRateLimit(rdb *redis.Client, perMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || perMinute <= 0 {
			return c.Next()
		}

		window := time.Now().UTC().Format("200601021504") // minute window
		key := fmt.Sprintf("newswire:rl:scrape:%s:%s", c.IP(), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute)
		}
		if count > int64(perMinute) {
			return fail(c, fiber.StatusTooManyRequests, "RateLimited",
				"scrape trigger rate limit exceeded, try again later")
		}
		return c.Next()
	}
}
