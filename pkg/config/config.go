package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/assignment"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Authorization engine configuration
	Authz AuthzConfig

	// Audit trail configuration
	Audit AuditConfig

	// Integrity sweeper configuration
	Integrity IntegrityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string

	// Rate limits per window for identified users and per client IP otherwise
	RateLimitWindow    time.Duration
	UserRateLimit      int
	AnonymousRateLimit int
	RateLimitBurst     int
	RateLimitFailOpen  bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection

	// Fraction of root traces sampled, 1 samples everything
	OTelSampleRatio float64
}

// AuthzConfig holds catalog and provisioning settings
type AuthzConfig struct {
	// Roles granted automatically at provisioning time
	OwnerRole          string
	ProjectCreatorRole string

	// CatalogFile replaces the embedded catalog definition when set
	CatalogFile string
}

// Assignment returns the assignment manager configuration
func (c AuthzConfig) Assignment() assignment.Config {
	return assignment.Config{
		OwnerRole:          c.OwnerRole,
		ProjectCreatorRole: c.ProjectCreatorRole,
	}
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	DatabaseEnabled bool
	LogFile         string
	MaxFileSize     int64
	RetentionDays   int
}

// Retention returns the retention policy for the audit_logs table
func (c AuditConfig) Retention() audit.RetentionPolicy {
	return audit.RetentionPolicy{RetentionDays: c.RetentionDays}
}

// IntegrityConfig holds the integrity sweeper schedule
type IntegrityConfig struct {
	Schedule string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Authz:         loadAuthzConfig(),
		Audit:         loadAuditConfig(),
		Integrity:     loadIntegrityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),

		RateLimitWindow:    getEnvDuration("WARDEN_RATE_LIMIT_WINDOW", time.Minute),
		UserRateLimit:      getEnvInt("WARDEN_RATE_LIMIT_USER", 1000),
		AnonymousRateLimit: getEnvInt("WARDEN_RATE_LIMIT_ANONYMOUS", 100),
		RateLimitBurst:     getEnvInt("WARDEN_RATE_LIMIT_BURST", 50),
		RateLimitFailOpen:  getEnvBool("WARDEN_RATE_LIMIT_FAIL_OPEN", true),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("WARDEN_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("WARDEN_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = splitList(replicaURLs)
	}
	if maxConns := getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("WARDEN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("WARDEN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("WARDEN_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("WARDEN_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("WARDEN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("WARDEN_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("WARDEN_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	if cacheEnabled := getEnv("WARDEN_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}
	if cacheSize := getEnvInt("WARDEN_CACHE_SIZE", 0); cacheSize > 0 {
		cfg.L1CacheSize = cacheSize
	}
	if ttl := getEnvDuration("WARDEN_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL["role_permissions"] = ttl
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", 1),
	}
}

// loadAuthzConfig loads catalog and provisioning settings from environment
func loadAuthzConfig() AuthzConfig {
	defaults := assignment.DefaultConfig()
	return AuthzConfig{
		OwnerRole:          getEnv("WARDEN_OWNER_ROLE", defaults.OwnerRole),
		ProjectCreatorRole: getEnv("WARDEN_PROJECT_CREATOR_ROLE", defaults.ProjectCreatorRole),
		CatalogFile:        getEnv("WARDEN_CATALOG_FILE", ""),
	}
}

// loadAuditConfig loads audit settings from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		DatabaseEnabled: getEnvBool("WARDEN_AUDIT_DB_ENABLED", true),
		LogFile:         getEnv("WARDEN_AUDIT_LOG_FILE", ""),
		MaxFileSize:     getEnvInt64("WARDEN_AUDIT_MAX_FILE_SIZE", 100*1024*1024),
		RetentionDays:   getEnvInt("WARDEN_AUDIT_RETENTION_DAYS", audit.DefaultRetentionPolicy().RetentionDays),
	}
}

// loadIntegrityConfig loads sweeper settings from environment
func loadIntegrityConfig() IntegrityConfig {
	return IntegrityConfig{
		Schedule: getEnv("WARDEN_INTEGRITY_SCHEDULE", "*/15 * * * *"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Server.UserRateLimit <= 0 || c.Server.AnonymousRateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst cannot be negative")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	// Validate authorization config
	if c.Authz.OwnerRole == "" {
		return fmt.Errorf("owner role is required")
	}
	if c.Authz.ProjectCreatorRole == "" {
		return fmt.Errorf("project creator role is required")
	}

	// Validate audit config
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	if c.Audit.LogFile != "" && c.Audit.MaxFileSize <= 0 {
		return fmt.Errorf("audit max file size must be positive")
	}

	// Validate integrity config
	if _, err := cron.ParseStandard(c.Integrity.Schedule); err != nil {
		return fmt.Errorf("invalid integrity schedule %q: %w", c.Integrity.Schedule, err)
	}

	return nil
}

// splitList splits a comma separated list, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
