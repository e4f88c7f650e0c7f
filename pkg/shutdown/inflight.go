package shutdown

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// InFlightTracker tracks in-flight requests so shutdown waits for a payment
// confirmation that already reached a provider
type InFlightTracker struct {
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closing bool
	logger  *zap.Logger
	name    string
}

// NewInFlightTracker creates a new in-flight work tracker
func NewInFlightTracker(name string, logger *zap.Logger) *InFlightTracker {
	return &InFlightTracker{logger: logger, name: name}
}

// Add registers one unit of work. It returns false once shutdown has begun.
func (ift *InFlightTracker) Add() bool {
	ift.mu.RLock()
	defer ift.mu.RUnlock()
	if ift.closing {
		return false
	}
	ift.wg.Add(1)
	return true
}

// Done marks one unit of work complete
func (ift *InFlightTracker) Done() {
	ift.wg.Done()
}

// IsShuttingDown reports whether new work is being refused
func (ift *InFlightTracker) IsShuttingDown() bool {
	ift.mu.RLock()
	defer ift.mu.RUnlock()
	return ift.closing
}

// Shutdown refuses new work and waits for the current work, bounded by ctx
func (ift *InFlightTracker) Shutdown(ctx context.Context) error {
	ift.mu.Lock()
	ift.closing = true
	ift.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ift.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ift.logger.Info("All in-flight work completed", zap.String("tracker", ift.name))
		return nil
	case <-ctx.Done():
		ift.logger.Warn("Shutdown timeout with work still in flight", zap.String("tracker", ift.name))
		return ctx.Err()
	}
}

// Middleware answers 503 once shutdown has begun and otherwise counts the
// request as in-flight until it returns
func (ift *InFlightTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ift.Add() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Retry-After", "5")
			http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer ift.Done()
		next.ServeHTTP(w, r)
	})
}
