package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"newswire/internal/config"
	"newswire/internal/extract"
	"newswire/internal/feed"
	server "newswire/internal/http"
	"newswire/internal/jobs"
	"newswire/internal/metrics"
	"newswire/internal/migrate"
	"newswire/internal/pipeline"
	"newswire/internal/scraper"
	"newswire/internal/sources"
	"newswire/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := newLogger(cfg)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.Pool.MaxConns)
	db.SetMaxIdleConns(cfg.Database.Pool.MinConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.Database.Pool.IdleTimeoutMs) * time.Millisecond)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	feeds := feed.NewFetcher(
		time.Duration(cfg.Scraper.RSSTimeoutMs)*time.Millisecond, cfg.Scraper.UserAgent)
	fetcher := scraper.NewClient(
		time.Duration(cfg.Scraper.TimeoutMs)*time.Millisecond, cfg.Scraper.UserAgent)

	pipe := pipeline.New(st, feeds, fetcher, scraper.NewRobots(), extract.New(), logger,
		pipeline.Config{
			SourceConcurrency:  cfg.Pipeline.SourceConcurrency,
			ArticleConcurrency: cfg.Pipeline.ArticleConcurrency,
			DefaultDelay:       time.Duration(cfg.Pipeline.DefaultDelayMs) * time.Millisecond,
			ArticleTimeout:     time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond,
			KeepFullHTML:       cfg.Scraper.KeepFullHTML,
		})

	manager := jobs.NewManager(st, pipe, logger, jobs.Config{
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		StuckThreshold:    time.Duration(cfg.Pipeline.StuckJobThresholdMinutes) * time.Minute,
	})

	// Reconcile jobs orphaned by a previous crash before accepting triggers.
	if n, err := manager.RecoverOrphans(context.Background()); err != nil {
		log.Fatalf("orphan recovery failed: %v", err)
	} else if n > 0 {
		logger.Warn("recovered orphaned jobs", "count", n)
	}

	registry := sources.NewRegistry(st, feeds, logger)
	dashboard := metrics.NewAggregator(st, cfg.Metrics.WindowDays,
		time.Duration(cfg.Metrics.CacheTTLSeconds)*time.Second)

	srv := server.NewServer(server.Deps{
		Config:    cfg,
		DB:        db,
		Jobs:      manager,
		Sources:   registry,
		Content:   st,
		Dashboard: dashboard,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("job manager shutdown", "error", err)
	}
	_ = db.Close()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
