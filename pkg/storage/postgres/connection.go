package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/warden/pkg/storage"
)

// ErrReplicasUnavailable is returned by HealthCheck when the primary is up
// but no replica answers. Reads still succeed against the primary.
var ErrReplicasUnavailable = errors.New("all replicas unhealthy")

// ConnectionManager manages PostgreSQL primary and read replica connections.
// Permission checks read from replicas; assignment mutations always use the primary.
//
// A replica that fails a health ping is skipped, not closed, and rejoins the
// rotation once it answers again. Handles are only closed by Close.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*replica
	current  uint32 // Atomic counter for round-robin selection
	config   ConnectionConfig
	logger   *slog.Logger
}

type replica struct {
	db      *sql.DB
	healthy atomic.Bool
}

func newReplica(db *sql.DB, healthy bool) *replica {
	r := &replica{db: db}
	r.healthy.Store(healthy)
	return r
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConfigFromStorage builds a ConnectionConfig from the shared storage config.
func ConfigFromStorage(cfg storage.Config) ConnectionConfig {
	return ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: cfg.PostgresReplicaURLs,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: cfg.PostgresMaxLifetime,
		MaxIdleTime: cfg.PostgresMaxIdleTime,
	}
}

// NewConnectionManager connects to the primary, which must answer a ping, and
// to every replica. A replica that does not answer yet starts out unhealthy.
func NewConnectionManager(config ConnectionConfig) (*ConnectionManager, error) {
	primary, err := sql.Open("postgres", config.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}
	config.configurePool(primary, config.MaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := primary.PingContext(ctx); err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}

	cm := newManager(primary, config)
	for i, replicaURL := range config.ReplicaURLs {
		db, err := sql.Open("postgres", replicaURL)
		if err != nil {
			cm.logger.Warn("skipping replica", "index", i, "error", err)
			continue
		}
		cm.configureReplica(db)

		err = db.PingContext(ctx)
		if err != nil {
			cm.logger.Warn("replica not ready", "index", i, "error", err)
		}
		cm.replicas = append(cm.replicas, newReplica(db, err == nil))
	}

	cm.logger.Info("connection manager initialized", "replicas", len(cm.replicas))
	return cm, nil
}

// NewConnectionManagerFromDB wraps already opened handles. Used by tests and by
// callers that manage their own *sql.DB lifecycle.
func NewConnectionManagerFromDB(primary *sql.DB, replicas ...*sql.DB) *ConnectionManager {
	cm := newManager(primary, ConnectionConfig{Timeout: 5 * time.Second})
	for _, db := range replicas {
		cm.replicas = append(cm.replicas, newReplica(db, true))
	}
	return cm
}

func newManager(primary *sql.DB, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		primary: primary,
		config:  config,
		logger:  slog.Default().With("component", "postgres"),
	}
}

func (c ConnectionConfig) configurePool(db *sql.DB, maxConns int) {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(c.MinConns)
	db.SetConnMaxLifetime(c.MaxLifetime)
	db.SetConnMaxIdleTime(c.MaxIdleTime)
}

// configureReplica gives a replica half the primary pool
func (cm *ConnectionManager) configureReplica(db *sql.DB) {
	maxConns := cm.config.MaxConns / 2
	if maxConns < 2 {
		maxConns = 2
	}
	cm.config.configurePool(db, maxConns)
}

// Primary returns the primary database connection (for writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns the next healthy replica in round-robin order, or the
// primary when none is healthy.
func (cm *ConnectionManager) Replica() *sql.DB {
	n := len(cm.replicas)
	if n == 0 {
		return cm.primary
	}

	start := int(atomic.AddUint32(&cm.current, 1) % uint32(n))
	for i := 0; i < n; i++ {
		if r := cm.replicas[(start+i)%n]; r.healthy.Load() {
			return r.db
		}
	}
	return cm.primary
}

// Reader returns a handle that sends every query to the next replica. It
// is meant for stores that are built once and live for the process.
func (cm *ConnectionManager) Reader() storage.DBTX {
	return replicaReader{cm: cm}
}

type replicaReader struct {
	cm *ConnectionManager
}

func (r replicaReader) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.cm.Replica().ExecContext(ctx, query, args...)
}

func (r replicaReader) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.cm.Replica().QueryContext(ctx, query, args...)
}

func (r replicaReader) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.cm.Replica().QueryRowContext(ctx, query, args...)
}

// HealthCheck pings the primary and every replica, updating which replicas
// serve reads. It returns ErrReplicasUnavailable when the primary is up but
// no replica answers.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	if down := cm.CheckReplicas(ctx); len(down) > 0 && len(down) == len(cm.replicas) {
		return fmt.Errorf("%w: %s", ErrReplicasUnavailable, strings.Join(down, ", "))
	}
	return nil
}

// CheckReplicas pings every replica and marks it healthy or not. It returns
// the names of the replicas that did not answer.
func (cm *ConnectionManager) CheckReplicas(ctx context.Context) []string {
	var down []string
	for i, r := range cm.replicas {
		err := r.db.PingContext(ctx)
		was := r.healthy.Swap(err == nil)
		switch {
		case err != nil:
			down = append(down, fmt.Sprintf("replica-%d", i))
			if was {
				cm.logger.Warn("replica unhealthy, skipping", "index", i, "error", err)
			}
		case !was:
			cm.logger.Info("replica recovered", "index", i)
		}
	}
	return down
}

// Stats returns connection pool statistics for primary and replicas
func (cm *ConnectionManager) Stats() ConnectionStats {
	stats := ConnectionStats{
		Primary:  cm.primary.Stats(),
		Replicas: make([]sql.DBStats, len(cm.replicas)),
	}
	for i, r := range cm.replicas {
		stats.Replicas[i] = r.db.Stats()
	}
	return stats
}

// ConnectionStats holds statistics for all database connections
type ConnectionStats struct {
	Primary  sql.DBStats
	Replicas []sql.DBStats
}

// Close closes the primary and every replica, joining their errors.
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close primary: %w", err))
	}
	for i, r := range cm.replicas {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close replica-%d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// StartHealthCheckRoutine re-checks replica health every interval (30s when
// zero) until ctx is cancelled.
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}
	if len(cm.replicas) == 0 {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				cm.logger.Error("replica health routine panic", "panic", r, "stack", string(debug.Stack()))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			cm.CheckReplicas(checkCtx)
			cancel()
		}
	}()
}
