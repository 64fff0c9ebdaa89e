package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"portscope/logging"
)

// Config holds process settings read from the environment.
type Config struct {
	Addr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	APIKey     string
	ProbesFile string

	JobRetention  time.Duration
	EvictInterval time.Duration
	ArchiveTTL    time.Duration

	RateLimit  int64
	RateWindow time.Duration

	DefaultWorkers int
	DefaultTimeout time.Duration
	BannerTimeout  time.Duration
	TLSTimeout     time.Duration

	LogLevel slog.Level
}

// ArchiveEnabled reports whether a Redis server is configured.
func (c Config) ArchiveEnabled() bool {
	return c.RedisAddr != ""
}

// Load reads .env files (when present) and then the process environment.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from lookup, which returns "" for unset keys.
func FromEnv(lookup func(string) string) (Config, error) {
	p := parser{lookup: lookup}
	cfg := Config{
		Addr:           p.str("PORTSCOPE_ADDR", ":8080"),
		RedisAddr:      p.str("REDIS_ADDR", ""),
		RedisPassword:  p.str("REDIS_PASSWORD", ""),
		RedisDB:        p.int("REDIS_DB", 0),
		APIKey:         p.str("API_KEY", ""),
		ProbesFile:     p.str("PROBES_FILE", ""),
		JobRetention:   p.duration("JOB_RETENTION", 10*time.Minute),
		EvictInterval:  p.duration("EVICT_INTERVAL", time.Minute),
		ArchiveTTL:     p.duration("ARCHIVE_TTL", 24*time.Hour),
		RateLimit:      int64(p.int("RATE_LIMIT", 60)),
		RateWindow:     p.duration("RATE_WINDOW", time.Minute),
		DefaultWorkers: p.int("DEFAULT_WORKERS", 10),
		DefaultTimeout: p.duration("DEFAULT_TIMEOUT", time.Second),
		BannerTimeout:  p.duration("BANNER_TIMEOUT", 2*time.Second),
		TLSTimeout:     p.duration("TLS_TIMEOUT", 5*time.Second),
	}

	level, err := logging.ParseLevel(p.str("LOG_LEVEL", "info"))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type parser struct {
	lookup func(string) string
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if value := p.lookup(key); value != "" {
		return value
	}
	return fallback
}

func (p *parser) int(key string, fallback int) int {
	raw := p.lookup(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: expected a non-negative integer, got %q", key, raw))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := p.lookup(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: expected a positive duration, got %q", key, raw))
		return fallback
	}
	return d
}
