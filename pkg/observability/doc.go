// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for warden.
//
// # Logging
//
// Logger writes JSON through log/slog. Request-scoped loggers carry the
// request and acting user IDs, plus trace IDs when a span is recording:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	observability.FromContext(ctx).WithField("workspace_id", id).Info("role assigned")
//
// Mutations log at Info and denials at Debug.
//
// # Metrics
//
// A nil *Metrics is valid and records nothing, so components take metrics
// as an optional dependency:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("has_permission", "owner", true, elapsed)
//
// # Health
//
// HealthChecker folds named dependency checks into one readiness status.
// Optional dependencies and checks returning ErrDegraded degrade readiness
// without failing it:
//
//	checker := observability.NewHealthChecker(version,
//		observability.Dependency{Name: "database", Check: conns.HealthCheck},
//		observability.Dependency{Name: "redis", Optional: true, Check: redisClient.Ping},
//	)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Shutdown
//
// ShutdownManager runs registered hooks in order under one deadline once
// a signal arrives or the serving context ends.
package observability
