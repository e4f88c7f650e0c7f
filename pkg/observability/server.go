package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AdminServerConfig configures the internal metrics and health listener
type AdminServerConfig struct {
	// Extra mounts additional handlers, e.g. the provider health report.
	Extra         map[string]http.Handler
	HealthChecker *HealthChecker
	Port          string
}

// NewAdminMux builds the admin routes: /metrics, /health, /ready and Extra
func NewAdminMux(cfg AdminServerConfig) *http.ServeMux {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.HealthChecker != nil {
		mux.HandleFunc("/health", cfg.HealthChecker.HealthHandler())
	}

	// Ready once the service's own dependencies answer
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthChecker != nil && !cfg.HealthChecker.Check(r.Context()).Healthy() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	for pattern, handler := range cfg.Extra {
		mux.Handle(pattern, handler)
	}
	return mux
}

// StartAdminServer starts the admin listener in the background
func StartAdminServer(cfg AdminServerConfig, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewAdminMux(cfg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("Admin server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server error", zap.Error(err))
		}
	}()

	return server
}

// ShutdownAdminServer gracefully shuts down the admin server
func ShutdownAdminServer(ctx context.Context, server *http.Server) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
