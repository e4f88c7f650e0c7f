package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const dependencyCheckTimeout = 2 * time.Second

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Status    string            `json:"status"`
}

// Healthy reports whether every dependency answered
func (s HealthStatus) Healthy() bool {
	return s.Status == "healthy"
}

// CheckFunc probes one dependency. pgxpool.Pool.Ping satisfies it directly.
type CheckFunc func(ctx context.Context) error

// HealthChecker pings the service's own dependencies (database, cache).
// Provider reachability is reported separately and never fails this check.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthChecker creates a new HealthChecker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

// AddCheck registers a named dependency probe. A nil fn reports "not configured".
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) *HealthChecker {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = fn
	return h
}

// Check performs health checks and returns the status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]CheckFunc, len(names))
	for i, name := range names {
		fns[i] = h.checks[name]
	}
	h.mu.RUnlock()

	checks := make(map[string]string, len(names))
	overallStatus := "healthy"
	for i, name := range names {
		fn := fns[i]
		if fn == nil {
			checks[name] = "not configured"
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
		err := fn(checkCtx)
		cancel()
		if err != nil {
			checks[name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			checks[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// HealthHandler returns an HTTP handler for health checks
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(status)
	}
}
