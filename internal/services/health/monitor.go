// Package health probes every registered provider off the payment path and
// publishes the results to Prometheus, gRPC health and the admin surface.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/pkg/observability"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const maxConcurrentProbes = 8

// ServicePrefix prefixes the per-provider gRPC health service names
const ServicePrefix = "payments.provider."

// AdapterSource lists and resolves registered adapters
type AdapterSource interface {
	Slugs() []string
	Get(slug string) (ports.ProviderAdapter, error)
}

// StatusSetter is satisfied by *health.Server from google.golang.org/grpc/health
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// Report is the result of one sweep
type Report struct {
	CheckedAt time.Time               `json:"checkedAt"`
	Providers []domain.ProviderHealth `json:"providers"`
	Healthy   bool                    `json:"healthy"`
}

// Monitor runs provider health sweeps
type Monitor struct {
	adapters AdapterSource
	status   StatusSetter
	timeouts *resilience.TimeoutConfig
	logger   ports.Logger
	cron     *cron.Cron

	mu   sync.RWMutex
	last *Report
}

// NewMonitor creates a monitor. status may be nil when no gRPC server runs.
func NewMonitor(adapters AdapterSource, status StatusSetter, timeouts *resilience.TimeoutConfig, logger ports.Logger) *Monitor {
	return &Monitor{
		adapters: adapters,
		status:   status,
		timeouts: timeouts,
		logger:   logger,
	}
}

// ServiceName is the gRPC health service name for a provider
func ServiceName(slug string) string {
	return ServicePrefix + slug
}

// CheckAll probes every provider concurrently. A provider whose adapter
// cannot be built is reported unhealthy rather than skipped.
func (m *Monitor) CheckAll(ctx context.Context) *Report {
	ctx, cancel := m.timeouts.HealthSweepContext(ctx)
	defer cancel()

	slugs := m.adapters.Slugs()
	results := make([]domain.ProviderHealth, len(slugs))

	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() error {
			results[i] = m.probe(ctx, slug)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].Slug < results[b].Slug })
	report := &Report{CheckedAt: time.Now().UTC(), Providers: results, Healthy: true}
	for _, h := range results {
		m.publish(h)
		if !h.Healthy {
			report.Healthy = false
		}
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}

func (m *Monitor) probe(ctx context.Context, slug string) domain.ProviderHealth {
	start := time.Now()
	adapter, err := m.adapters.Get(slug)
	if err != nil {
		return domain.NewProviderHealth(slug, slug, start, err)
	}

	ctx, cancel := m.timeouts.HealthCheckContext(ctx)
	defer cancel()

	h := adapter.HealthCheck(ctx)
	if h.Slug == "" {
		h.Slug = adapter.Slug()
	}
	if h.Name == "" {
		h.Name = adapter.Name()
	}
	if h.ResponseTimeMs == nil {
		elapsed := time.Since(start).Milliseconds()
		h.ResponseTimeMs = &elapsed
	}
	return h
}

func (m *Monitor) publish(h domain.ProviderHealth) {
	var ms int64
	if h.ResponseTimeMs != nil {
		ms = *h.ResponseTimeMs
	}
	observability.RecordProviderHealth(h.Slug, h.Healthy, ms)

	if m.status != nil {
		status := healthpb.HealthCheckResponse_SERVING
		if !h.Healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		m.status.SetServingStatus(ServiceName(h.Slug), status)
	}

	if !h.Healthy {
		m.logger.Warn("Provider health check failed",
			ports.String("provider", h.Slug),
			ports.String("error", h.ErrorMessage),
		)
	}
}

// Last returns the most recent report, or nil before the first sweep
func (m *Monitor) Last() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Start runs a sweep now and then on the cron schedule spec
// (e.g. "@every 1m" or "*/5 * * * *").
func (m *Monitor) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.CheckAll(context.Background()) }); err != nil {
		return domain.ErrInternalError.Wrap(err)
	}
	m.cron = c
	c.Start()
	go m.CheckAll(context.Background())

	m.logger.Info("Provider health sweeps scheduled",
		ports.String("schedule", spec),
		ports.Int("providers", len(m.adapters.Slugs())),
	)
	return nil
}

// Stop stops scheduling and waits for a running sweep, bounded by ctx
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
