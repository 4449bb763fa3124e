// Command warden serves the workspace authorization API.
//
// Configuration comes from WARDEN_* environment variables (see pkg/config).
// The API listens on WARDEN_PORT; liveness, readiness and Prometheus metrics
// are served separately on WARDEN_HEALTH_PORT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/assignment"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

const maxRequestBytes = 1 << 20

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	slog.SetDefault(logger.Slog())
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("warden exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	conns, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(cfg.Storage))
	if err != nil {
		return err
	}
	conns.StartHealthCheckRoutine(ctx, 30*time.Second)

	if err := storage.RunMigrations(ctx, conns.Primary(), storage.DialectPostgres); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var (
		redisClient *postgres.RedisClient
		rawRedis    *redis.Client
	)
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			return err
		}
		rawRedis = redisClient.Client()
	}

	var cache *catalog.Cache
	if cfg.Storage.CacheEnabled {
		var shared catalog.SharedCache
		if redisClient != nil {
			shared = redisClient
		}
		cache = catalog.NewCache(catalog.CacheConfig{
			Size: cfg.Storage.L1CacheSize,
			TTL:  cfg.Storage.TTL("role_permissions"),
		}, shared, metrics, logger)
	}
	if err := seedCatalog(ctx, cfg.Authz.CatalogFile, conns, cache); err != nil {
		return err
	}

	auditLogger, auditDB, err := newAuditLogger(cfg.Audit, conns)
	if err != nil {
		return err
	}

	reader := conns.Reader()
	cat := catalog.NewService(conns.Primary(), reader, cache)
	engine := rbac.NewEngine(reader, cat, rbac.WithMetrics(metrics), rbac.WithLogger(logger))
	// mutations decide on the primary so they never act on replica lag
	primaryCat := catalog.NewService(conns.Primary(), conns.Primary(), cache)
	primaryEngine := rbac.NewEngine(conns.Primary(), primaryCat, rbac.WithMetrics(metrics), rbac.WithLogger(logger))
	manager := assignment.NewManager(conns.Primary(), primaryEngine, primaryCat,
		assignment.WithConfig(cfg.Authz.Assignment()),
		assignment.WithAuditLogger(auditLogger),
		assignment.WithMetrics(metrics),
		assignment.WithLogger(logger),
	)

	deps := api.Dependencies{
		Checker: engine,
		Manager: manager,
		Catalog: cat,
		Read:    reader,
		Logger:  logger,
	}
	if auditDB != nil {
		deps.Audit = auditDB
	}
	server := api.NewServer(deps)

	handler := httputil.Chain(
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(maxRequestBytes),
		// identify before limiting so limits apply per user
		middleware.NewIdentityMiddleware(true).Handler,
		httputil.LoggingMiddleware(logger),
		rateLimiter(ctx, cfg.Server, rawRedis, logger),
	)(server)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "warden"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, newHealthChecker(cfg, conns, redisClient))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer("api", apiServer)
	shutdown.RegisterServer("health", healthServer)
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })
	shutdown.Register("otel", providers.Shutdown)
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				func() {
					defer observability.RecoverPanic(logger, "db_stats")
					metrics.UpdateDBStats(conns.Primary().Stats())
				}()
			}
		}
	})
	if cache != nil {
		g.Go(func() error { return cache.Listen(gctx) })
	}
	g.Go(func() error {
		err := shutdown.WaitForShutdown(gctx)
		cancel()
		return err
	})

	err = g.Wait()
	if closeErr := conns.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("failed to close database connections")
	}
	return err
}

// serve runs srv until it is shut down
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", srv.Addr, err)
	}
	return nil
}

// newHealthChecker reports the database as required and Redis as optional.
// Losing every replica degrades readiness since reads fall back to the primary.
func newHealthChecker(cfg *config.Config, conns *postgres.ConnectionManager, redisClient *postgres.RedisClient) *observability.HealthChecker {
	deps := []observability.Dependency{
		{Name: "database", Check: func(ctx context.Context) error {
			err := conns.HealthCheck(ctx)
			if errors.Is(err, postgres.ErrReplicasUnavailable) {
				return fmt.Errorf("%w: %w", observability.ErrDegraded, err)
			}
			return err
		}},
		{Name: "database_pool", Check: observability.PoolCheck(conns.Primary())},
	}
	if redisClient != nil {
		deps = append(deps, observability.Dependency{Name: "redis", Optional: true, Check: redisClient.Ping})
	}
	return observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, deps...)
}

// seedCatalog loads the catalog definition and syncs it into the database.
// Grants cached by other instances under the previous definition are dropped.
func seedCatalog(ctx context.Context, path string, conns *postgres.ConnectionManager, cache *catalog.Cache) error {
	def, err := catalog.DefaultDefinition()
	if path != "" {
		def, err = catalog.LoadDefinition(path)
	}
	if err != nil {
		return err
	}
	if err := catalog.Seed(ctx, conns.Primary(), def); err != nil {
		return err
	}
	if cache == nil {
		return nil
	}
	return cache.InvalidateAll(ctx)
}

// newAuditLogger fans audit events out to the audit_logs table and an
// optional JSON lines file. The returned *audit.DBLogger is nil when the
// table sink is disabled.
func newAuditLogger(cfg config.AuditConfig, conns *postgres.ConnectionManager) (audit.Logger, *audit.DBLogger, error) {
	var (
		sinks []audit.Logger
		dbLog *audit.DBLogger
	)
	if cfg.DatabaseEnabled {
		var err error
		dbLog, err = audit.NewDBLogger(conns.Primary())
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, dbLog)
	}
	if cfg.LogFile != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.LogFile
		fileCfg.MaxSize = cfg.MaxFileSize
		fileLog, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileLog)
	}

	switch len(sinks) {
	case 0:
		return audit.NoopLogger{}, nil, nil
	case 1:
		return sinks[0], dbLog, nil
	default:
		return audit.NewMultiLogger(sinks...), dbLog, nil
	}
}

// rateLimiter shares limits across replicas through Redis when available and
// falls back to per-process limits otherwise.
func rateLimiter(ctx context.Context, cfg config.ServerConfig, client *redis.Client, logger *observability.Logger) func(http.Handler) http.Handler {
	userCfg := middleware.RateLimitConfig{RequestsPerWindow: cfg.UserRateLimit, WindowDuration: cfg.RateLimitWindow, BurstSize: cfg.RateLimitBurst}
	anonCfg := middleware.RateLimitConfig{RequestsPerWindow: cfg.AnonymousRateLimit, WindowDuration: cfg.RateLimitWindow}

	var user, anon middleware.Limiter
	if client != nil {
		user = middleware.NewDistributedRateLimiter(client, userCfg, "warden:ratelimit:user")
		anon = middleware.NewDistributedRateLimiter(client, anonCfg, "warden:ratelimit:anon")
	} else {
		localUser, localAnon := middleware.NewRateLimiter(userCfg), middleware.NewRateLimiter(anonCfg)
		localUser.StartCleanup(ctx)
		localAnon.StartCleanup(ctx)
		user, anon = localUser, localAnon
	}

	m := middleware.NewRateLimitMiddleware(user, anon, logger)
	m.SetFailOpen(cfg.RateLimitFailOpen)
	return m.Handler
}
