package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded marks a check failure that should degrade readiness without
// failing it. Checks wrap it with fmt.Errorf("...: %w", ErrDegraded).
var ErrDegraded = errors.New("degraded")

// Dependency is one named readiness check.
type Dependency struct {
	Name string
	// Optional dependencies report degraded instead of unhealthy on failure.
	Optional bool
	Check    func(ctx context.Context) error
}

// HealthStatus is the readiness report served on /health/ready.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of a single Dependency check.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker runs readiness checks against the authorization store and
// its optional shared cache.
type HealthChecker struct {
	version string
	timeout time.Duration
	deps    []Dependency
}

// NewHealthChecker returns a checker reporting version and running deps
// concurrently on every readiness request.
func NewHealthChecker(version string, deps ...Dependency) *HealthChecker {
	return &HealthChecker{
		version: version,
		timeout: 5 * time.Second,
		deps:    deps,
	}
}

// Check runs every dependency and folds the results into one status.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, dep := range h.deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()
			result := runCheck(ctx, dep)

			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[dep.Name] = result
			status.Status = worst(status.Status, result.Status)
		}(dep)
	}
	wg.Wait()

	return status
}

func runCheck(ctx context.Context, dep Dependency) DependencyStatus {
	start := time.Now()
	err := dep.Check(ctx)
	result := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	if err == nil {
		return result
	}

	result.Message = err.Error()
	switch {
	case dep.Optional, errors.Is(err, ErrDegraded):
		result.Status = StatusDegraded
	default:
		result.Status = StatusUnhealthy
	}
	return result
}

func worst(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// PoolCheck reports degraded once every open connection in db's pool is in use.
func PoolCheck(db *sql.DB) func(context.Context) error {
	return func(context.Context) error {
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return fmt.Errorf("connection pool exhausted (%d in use): %w", stats.InUse, ErrDegraded)
		}
		return nil
	}
}

// Liveness always answers 200 while the process is serving.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 when a required dependency is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts the health endpoints on mux.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
