// Package main is the entry point for the accessrecon API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/accessrecon/internal/api"
	"github.com/onnwee/accessrecon/internal/audit"
	"github.com/onnwee/accessrecon/internal/catalog"
	"github.com/onnwee/accessrecon/internal/config"
	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/directory"
	"github.com/onnwee/accessrecon/internal/health"
	"github.com/onnwee/accessrecon/internal/idempotency"
	"github.com/onnwee/accessrecon/internal/jobs"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/lock"
	"github.com/onnwee/accessrecon/internal/middleware"
	"github.com/onnwee/accessrecon/internal/reconcile"
	"github.com/onnwee/accessrecon/internal/store"
	"github.com/onnwee/accessrecon/internal/ticket"
	"github.com/onnwee/accessrecon/internal/tracing"
)

const serviceName = "accessrecon-api"

// version is set at build time.
var version = "dev"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("accessrecon API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exitCode := 0
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}
	srv.close(shutdownCtx)

	logger.Info("server stopped")
	os.Exit(exitCode)
}

// server holds the wired HTTP handler and the resources to release on
// shutdown.
type server struct {
	handler http.Handler
	engine  *reconcile.Engine
	expiry  *reconcile.ExpiryJob
	closers []func(ctx context.Context) error
	logger  *slog.Logger
}

// registerer is implemented by each metrics bundle.
type registerer interface {
	Register(prometheus.Registerer) error
}

// newServer wires stores, locks, metrics, tracing and routes from cfg. An
// empty DatabaseURL selects the in-memory stores; an empty RedisURL selects
// the in-process locker and in-memory idempotency records.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *server, err error) {
	s := &server{logger: logger}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.Env == "development",
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.closers = append(s.closers, tp.Shutdown)

	var (
		st        store.Store
		auditRepo audit.Repository
		dbChecker api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		var conn *sql.DB
		conn, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return conn.Close() })
		st = store.NewPostgresStore(conn, logger)
		auditRepo = audit.NewPostgresRepository(conn, logger)
		dbChecker = health.NewDBChecker(conn)
		logger.Info("using postgres stores")
	} else {
		st = store.NewInMemoryStore(
			directory.NewInMemoryRepository(),
			catalog.NewInMemoryRepository(),
			ledger.NewInMemoryRepository(),
		)
		auditRepo = audit.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var (
		locker       lock.Locker = lock.NewLocalLocker()
		redisClient  *redis.Client
		redisChecker api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", perr)
		}
		redisClient = redis.NewClient(opts)
		s.closers = append(s.closers, func(context.Context) error { return redisClient.Close() })
		locker = lock.NewRedisLocker(redisClient, lock.RedisLockerConfig{TTL: cfg.LockTTL, Logger: logger})
		redisChecker = health.NewRedisChecker(redisClient)
	}

	var idempotencyRepo idempotency.Repository
	switch {
	case cfg.IdempotencyTTL <= 0:
	case redisClient != nil:
		idempotencyRepo = idempotency.NewRedisRepository(redisClient, cfg.IdempotencyTTL)
	default:
		mem := idempotency.NewInMemoryRepository(cfg.IdempotencyTTL)
		cleanupCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			idempotency.RunPeriodicCleanup(cleanupCtx, mem, time.Hour, cfg.IdempotencyTTL, logger)
		}()
		s.closers = append(s.closers, func(context.Context) error {
			cancel()
			<-done
			return nil
		})
		idempotencyRepo = mem
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	engineMetrics := reconcile.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, m := range []registerer{httpMetrics, engineMetrics, jobMetrics} {
		if err = m.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	s.engine = reconcile.NewEngine(reconcile.Config{
		Store:   st,
		Locker:  locker,
		Logger:  logger,
		Metrics: engineMetrics,
	})

	var archiver api.Archiver
	if cfg.ExportEnabled() {
		archiver, err = ticket.NewS3Archiver(ticket.S3Config{
			Bucket:          cfg.ExportBucket,
			Endpoint:        cfg.ExportEndpoint,
			Region:          cfg.ExportRegion,
			AccessKeyID:     cfg.ExportAccessKeyID,
			SecretAccessKey: cfg.ExportSecretAccessKey,
			Logger:          logger,
			JobMetrics:      jobMetrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ticket archive: %w", err)
		}
	}

	if cfg.FlexExpiryInterval > 0 {
		s.expiry = reconcile.NewExpiryJob(reconcile.ExpiryJobConfig{
			Interval:   cfg.FlexExpiryInterval,
			Logger:     logger,
			JobMetrics: jobMetrics,
		}, s.engine)
		if err = s.expiry.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start flex expiry job: %w", err)
		}
	}

	mux := api.NewRouter(api.RouterConfig{
		Employees:    api.NewEmployeeHandlers(s.engine, auditRepo, logger),
		Ledger:       api.NewLedgerHandlers(s.engine, archiver, auditRepo, logger),
		Entitlements: api.NewEntitlementHandlers(s.engine, auditRepo, logger),
		Audit:        api.NewAuditHandlers(auditRepo, logger),
		Health:       api.NewHealthHandlers(api.HealthHandlersConfig{DBChecker: dbChecker, RedisChecker: redisChecker}),
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	var routes http.Handler = mux
	if idempotencyRepo != nil {
		routes = middleware.Idempotency(idempotencyRepo, logger)(mux)
	}

	// RequestID -> Actor -> Tracing -> HTTPMetrics -> Logging -> Idempotency
	s.handler = middleware.RequestID(
		middleware.Actor(
			middleware.Tracing(serviceName)(
				middleware.HTTPMetrics(httpMetrics)(
					middleware.Logging(logger)(routes)))))
	return s, nil
}

// close stops the expiry job and releases resources in reverse order.
func (s *server) close(ctx context.Context) {
	if s.expiry != nil {
		s.expiry.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Error("failed to release resource", "error", err)
		}
	}
	s.closers = nil
}
