// Command warden-integrity periodically reports workspace tree integrity
// problems and prunes expired audit events.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/integrity"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

var (
	runOnce     = flag.Bool("once", false, "Run a single sweep and exit")
	metricsAddr = flag.String("metrics-addr", ":9091", "Address to serve Prometheus metrics on (empty to disable)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	conns, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(cfg.Storage))
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var cleaner integrity.AuditCleaner
	if cfg.Audit.DatabaseEnabled {
		dbLog, err := audit.NewDBLogger(conns.Primary())
		if err != nil {
			logger.Fatalf("Failed to create audit logger: %v", err)
		}
		cleaner = dbLog
	}
	// sweeps read from primary so findings are never stale
	sweeper := integrity.NewSweeper(conns.Primary(), cleaner, cfg.Audit.Retention(), metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runOnce {
		report, err := sweeper.Run(ctx)
		if err != nil {
			logger.Fatalf("Sweep failed: %v", err)
		}
		if !report.Clean() {
			os.Exit(2)
		}
		return
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, logger)
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(logger)))
	_, err = c.AddFunc(cfg.Integrity.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := sweeper.Run(runCtx); err != nil {
			logger.WithError(err).Error("Integrity sweep failed")
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule integrity sweep: %v", err)
	}

	c.Start()
	logger.Infof("Warden integrity sweeper started, schedule %q", cfg.Integrity.Schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	cancel()
	<-c.Stop().Done()
	logger.Info("Integrity sweeper stopped")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *logrus.Logger) {
	mux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(mux, registry)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		logger.WithError(err).Error("Invalid metrics address")
		return
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Metrics server stopped")
	}
}
