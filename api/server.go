package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"portscope/config"
	_ "portscope/docs"
	"portscope/logging"
	"portscope/scanner"
)

const (
	archiveWorkers  = 2
	archiveCapacity = 128
	shutdownTimeout = 10 * time.Second
)

// RouterOptions configures the cross-cutting middleware of the router.
type RouterOptions struct {
	// APIKey enables bearer authentication on /api/v1 when non-empty.
	APIKey string
	// RateLimiter, when set, guards scan creation.
	RateLimiter gin.HandlerFunc
	Logger      *slog.Logger
}

// NewRouter builds the gin engine serving s.
func NewRouter(s *Server, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(logger), SecurityHeadersMiddleware())
	router.GET("/healthz", s.healthHandler)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	if opts.APIKey != "" {
		v1.Use(AuthMiddleware(opts.APIKey, logger))
	}
	var createMiddleware []gin.HandlerFunc
	if opts.RateLimiter != nil {
		createMiddleware = append(createMiddleware, opts.RateLimiter)
	}
	s.RegisterRoutes(v1, createMiddleware...)
	return router
}

// Run initializes dependencies and serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	logger := logging.Logger()
	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		redisClient *redis.Client
		archive     ArchiveStore
	)
	if cfg.ArchiveEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		archive = NewRedisArchive(redisClient, cfg.ArchiveTTL)
	} else {
		logger.Info("REDIS_ADDR not set; history archive and rate limiting disabled")
	}

	opts := scanner.Options{
		BannerTimeout: cfg.BannerTimeout,
		TLSTimeout:    cfg.TLSTimeout,
	}
	if cfg.ProbesFile != "" {
		probes, stats, err := scanner.LoadProbes(cfg.ProbesFile)
		if err != nil {
			return fmt.Errorf("failed to load probes: %w", err)
		}
		if len(stats.ErrorLines) > 0 {
			logger.Warn("probe loader skipped lines", "count", len(stats.ErrorLines))
		}
		logger.Info("probe database loaded", "probes", stats.Probes, "matches", stats.Matches)
		opts.Probes = scanner.NewProbeCache(probes)
	}

	registryOpts := []scanner.RegistryOption{scanner.WithRetention(cfg.JobRetention)}
	var archiver *Archiver
	if archive != nil {
		archiver = NewArchiver(archive, logger, archiveCapacity)
		archiver.Start(archiveWorkers)
		registryOpts = append(registryOpts, scanner.WithFinishHook(archiver.Enqueue))
	}
	registry := scanner.NewRegistry(scanner.NewCoordinator(opts), registryOpts...)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		registry.Janitor(janitorCtx, cfg.EvictInterval)
	}()

	routerOpts := RouterOptions{APIKey: cfg.APIKey, Logger: logger}
	if redisClient != nil {
		routerOpts.RateLimiter = RateLimitMiddleware(redisClient, cfg.RateLimit, cfg.RateWindow, logger)
	}
	server := NewServer(registry, archive, Defaults{Workers: cfg.DefaultWorkers, Timeout: cfg.DefaultTimeout}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(server, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting portscope API server", "addr", cfg.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		runErr = httpServer.Shutdown(shutdownCtx)
		cancel()
	}

	stopJanitor()
	<-janitorDone
	registry.Close()
	if archiver != nil {
		archiver.Close()
	}
	return runErr
}
