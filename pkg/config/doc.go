// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"
//	WARDEN_POSTGRES_REPLICA_URLS="postgres://replica-1/warden,postgres://replica-2/warden"
//	WARDEN_POSTGRES_MAX_CONNS="20"
//
// Cache settings:
//
//	WARDEN_CACHE_ENABLED="true"
//	WARDEN_CACHE_SIZE="1024"
//	WARDEN_CACHE_TTL="5m"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//
// Authorization settings:
//
//	WARDEN_OWNER_ROLE="owner"
//	WARDEN_PROJECT_CREATOR_ROLE="admin"
//	WARDEN_CATALOG_FILE="/etc/warden/catalog.yaml"
//
// Audit settings:
//
//	WARDEN_AUDIT_DB_ENABLED="true"
//	WARDEN_AUDIT_LOG_FILE="/var/log/warden/audit.log"
//	WARDEN_AUDIT_RETENTION_DAYS="90"
//	WARDEN_INTEGRITY_SCHEDULE="*/15 * * * *"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	manager := assignment.NewManager(db, engine, catalog,
//		assignment.WithConfig(cfg.Authz.Assignment()))
package config
