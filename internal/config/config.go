package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PoolConfig struct {
	MaxConns            int `yaml:"maxConns"`
	MinConns            int `yaml:"minConns"`
	IdleTimeoutMs       int `yaml:"idleTimeoutMs"`
	ConnectionTimeoutMs int `yaml:"connectionTimeoutMs"`
}

type DatabaseConfig struct {
	DSN  string     `yaml:"dsn"`
	Pool PoolConfig `yaml:"pool"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// ScraperConfig holds per-process fetch defaults. Per-source politeness
// settings override these where set.
type ScraperConfig struct {
	UserAgent    string `yaml:"userAgent"`
	TimeoutMs    int    `yaml:"timeoutMs"`
	RSSTimeoutMs int    `yaml:"rssTimeoutMs"`
	KeepFullHTML bool   `yaml:"keepFullHtml"`
}

// PipelineConfig bounds the engine's concurrency. SourceConcurrency and
// ArticleConcurrency are per job; MaxConcurrentJobs bounds jobs across the
// process so N triggers cannot exhaust the connection pool.
type PipelineConfig struct {
	SourceConcurrency        int `yaml:"sourceConcurrency"`
	ArticleConcurrency       int `yaml:"articleConcurrency"`
	MaxConcurrentJobs        int `yaml:"maxConcurrentJobs"`
	DefaultArticlesPerSource int `yaml:"defaultArticlesPerSource"`
	DefaultDelayMs           int `yaml:"defaultDelayMs"`
	StuckJobThresholdMinutes int `yaml:"stuckJobThresholdMinutes"`
}

type RateLimitConfig struct {
	ScrapePerMinute int `yaml:"scrapePerMinute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	WindowDays      int `yaml:"windowDays"`
	CacheTTLSeconds int `yaml:"cacheTtlSeconds"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return &cfg
}

// ApplyEnv layers deployment environment variables over the file values.
// Unset or malformed variables leave the file value in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v, ok := envInt("DATABASE_POOL_MAX"); ok {
		c.Database.Pool.MaxConns = v
	}
	if v, ok := envInt("DATABASE_POOL_MIN"); ok {
		c.Database.Pool.MinConns = v
	}
	if v, ok := envInt("DATABASE_POOL_IDLE_TIMEOUT"); ok {
		c.Database.Pool.IdleTimeoutMs = v
	}
	if v, ok := envInt("DATABASE_POOL_CONNECTION_TIMEOUT"); ok {
		c.Database.Pool.ConnectionTimeoutMs = v
	}
	if v, ok := envInt("PORT"); ok {
		c.Server.Port = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if os.Getenv("APP_ENV") == "development" && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
}

// ApplyDefaults fills every zero value with the engine's documented default.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Pool.MaxConns == 0 {
		c.Database.Pool.MaxConns = 20
	}
	if c.Database.Pool.MinConns == 0 {
		c.Database.Pool.MinConns = 2
	}
	if c.Database.Pool.IdleTimeoutMs == 0 {
		c.Database.Pool.IdleTimeoutMs = 30000
	}
	if c.Database.Pool.ConnectionTimeoutMs == 0 {
		c.Database.Pool.ConnectionTimeoutMs = 2000
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "newswire/1.0 (+https://github.com/newswire)"
	}
	if c.Scraper.TimeoutMs == 0 {
		c.Scraper.TimeoutMs = 30000
	}
	if c.Scraper.RSSTimeoutMs == 0 {
		c.Scraper.RSSTimeoutMs = 10000
	}
	if c.Pipeline.SourceConcurrency == 0 {
		c.Pipeline.SourceConcurrency = 4
	}
	if c.Pipeline.ArticleConcurrency == 0 {
		c.Pipeline.ArticleConcurrency = 3
	}
	if c.Pipeline.MaxConcurrentJobs == 0 {
		c.Pipeline.MaxConcurrentJobs = 5
	}
	if c.Pipeline.DefaultArticlesPerSource == 0 {
		c.Pipeline.DefaultArticlesPerSource = 10
	}
	if c.Pipeline.DefaultDelayMs == 0 {
		c.Pipeline.DefaultDelayMs = 1000
	}
	if c.Pipeline.StuckJobThresholdMinutes == 0 {
		c.Pipeline.StuckJobThresholdMinutes = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.WindowDays == 0 {
		c.Metrics.WindowDays = 7
	}
	if c.Metrics.CacheTTLSeconds == 0 {
		c.Metrics.CacheTTLSeconds = 60
	}
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn (or DATABASE_URL) is required")
	}
	if c.Database.Pool.MinConns > c.Database.Pool.MaxConns {
		return fmt.Errorf("database.pool.minConns %d exceeds maxConns %d",
			c.Database.Pool.MinConns, c.Database.Pool.MaxConns)
	}
	if c.Pipeline.SourceConcurrency < 1 || c.Pipeline.ArticleConcurrency < 1 {
		return fmt.Errorf("pipeline concurrency values must be >= 1")
	}
	return nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
