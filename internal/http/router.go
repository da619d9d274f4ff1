// Package http is the API gateway: a fiber server exposing the job trigger,
// job/log/content reads, source CRUD and the dashboard to the UI.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"newswire/internal/config"
	"newswire/internal/metrics"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Config    *config.Config
	DB        *sql.DB
	Jobs      JobManager
	Sources   SourceRegistry
	Content   ContentStore
	Dashboard Dashboard
	Logger    *slog.Logger
}

// Server owns the fiber app and its listener lifecycle.
type Server struct {
	app    *fiber.App
	config *config.Config
	logger *slog.Logger
}

// NewServer wires middleware and routes. Handlers pull their collaborators
// from Locals, so tests can mount the same routes over fakes.
func NewServer(d Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", d.Config)
		c.Locals("jobs", d.Jobs)
		c.Locals("sources", d.Sources)
		c.Locals("content", d.Content)
		c.Locals("dashboard", d.Dashboard)
		return c.Next()
	})
	app.Use(requestMiddleware(d.Logger))

	// Redis client for the optional trigger rate limit and deep health.
	var rdb *redis.Client
	if d.Config != nil && d.Config.Redis.URL != "" {
		if opt, err := redis.ParseURL(d.Config.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		} else if d.Logger != nil {
			d.Logger.Warn("redis url unparseable, rate limiting disabled", "error", err)
		}
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		// Shallow health: process is up.
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if d.DB == nil {
			dbStatus = "disabled"
		} else if err := d.DB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		status := "ok"
		if dbStatus == "error" || redisStatus == "error" {
			status = "error"
		}
		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("txt")
		return c.SendString(metrics.Export())
	})

	perMinute := 0
	if d.Config != nil {
		perMinute = d.Config.RateLimit.ScrapePerMinute
	}

	api := app.Group("/api")
	api.Post("/scrape", scrapeRateLimit(rdb, perMinute), scrapeHandler)
	registerAPIRoutes(api)

	return &Server{app: app, config: d.Config, logger: d.Logger}
}

func registerAPIRoutes(api fiber.Router) {
	api.Get("/jobs", jobsListHandler)
	api.Get("/jobs/:id", jobDetailHandler)
	api.Get("/jobs/:id/logs", jobLogsHandler)
	api.Delete("/jobs/:id", jobCancelHandler)

	api.Get("/content", contentListHandler)
	api.Get("/content/:id", contentDetailHandler)

	api.Get("/sources", sourcesListHandler)
	api.Post("/sources", sourceCreateHandler)
	api.Put("/sources/:id", sourceUpdateHandler)
	api.Patch("/sources/:id", sourceUpdateHandler)
	api.Delete("/sources/:id", sourceDeleteHandler)
	api.Patch("/sources/:id/test", sourceTestHandler)

	api.Get("/metrics", dashboardHandler)
}

// Listen blocks serving until Shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	if s.logger != nil {
		s.logger.Info("listening", "addr", addr)
	}
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests within the deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return s.app.Shutdown()
	}
	return s.app.ShutdownWithTimeout(time.Until(deadline))
}

// App exposes the fiber app for handler tests via app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}
