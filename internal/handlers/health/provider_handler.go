// Package health serves the provider health report and registers gRPC health.
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthsvc "github.com/kevin07696/esim-checkout/internal/services/health"
)

// Reporter produces provider health reports
type Reporter interface {
	Last() *healthsvc.Report
	CheckAll(ctx context.Context) *healthsvc.Report
}

// ProviderHandler serves GET /health/providers
type ProviderHandler struct {
	reporter Reporter
	logger   *zap.Logger
}

// NewProviderHandler creates a provider health handler
func NewProviderHandler(reporter Reporter, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{reporter: reporter, logger: logger}
}

// ServeHTTP answers with the last sweep, or runs one when none has finished
// yet or ?refresh=true is given. Any unhealthy provider turns the status 503.
func (h *ProviderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := h.reporter.Last()
	if report == nil || r.URL.Query().Get("refresh") == "true" {
		report = h.reporter.CheckAll(r.Context())
	}

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("Failed to write provider health report", zap.Error(err))
	}
}

// RegisterGRPC registers the standard health service on server. Provider
// sweeps update per-provider entries; the overall entry stays SERVING.
func RegisterGRPC(server *grpc.Server) *grpchealth.Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return hs
}
