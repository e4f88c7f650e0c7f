package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_operations_total",
		Help: "Provider operations by provider, operation and outcome",
	}, []string{"provider", "operation", "outcome"})

	paymentOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_operation_duration_seconds",
		Help:    "Duration of provider operations",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"provider", "operation"})

	statusRechecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_rechecks_total",
		Help: "Status lookups issued after a confirm timed out, by resolution",
	}, []string{"provider", "resolution"})

	challengeSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_challenge_sessions_total",
		Help: "Challenge session transitions by provider and resulting state",
	}, []string{"provider", "state"})

	refundAmountMinor = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refund_amount_minor_total",
		Help: "Refunded amount in minor units by provider and currency",
	}, []string{"provider", "currency"})

	// ProviderHealthy is 1 when the last health probe for a provider passed.
	ProviderHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payment_provider_healthy",
		Help: "Whether the last health probe for the provider succeeded",
	}, []string{"provider"})

	// ProviderHealthResponseMs is the response time of the last health probe.
	ProviderHealthResponseMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payment_provider_health_response_ms",
		Help: "Response time of the last provider health probe in milliseconds",
	}, []string{"provider"})

	// CircuitBreakerState is 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payment_provider_circuit_state",
		Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
	}, []string{"provider"})
)

// RecordPaymentOperation records one initiate, confirm or refund call
func RecordPaymentOperation(provider, operation, outcome string, durationSeconds float64) {
	paymentOperationsTotal.WithLabelValues(provider, operation, outcome).Inc()
	paymentOperationDuration.WithLabelValues(provider, operation).Observe(durationSeconds)
}

// RecordStatusRecheck records how a post-timeout status lookup resolved
func RecordStatusRecheck(provider, resolution string) {
	statusRechecksTotal.WithLabelValues(provider, resolution).Inc()
}

// RecordChallengeTransition records a challenge session reaching state
func RecordChallengeTransition(provider, state string) {
	challengeSessionsTotal.WithLabelValues(provider, state).Inc()
}

// RecordRefundAmount adds a refunded amount in minor units
func RecordRefundAmount(provider, currency string, minor int64) {
	refundAmountMinor.WithLabelValues(provider, currency).Add(float64(minor))
}

// RecordProviderHealth publishes the result of one health probe
func RecordProviderHealth(provider string, healthy bool, responseMs int64) {
	v := 0.0
	if healthy {
		v = 1
	}
	ProviderHealthy.WithLabelValues(provider).Set(v)
	ProviderHealthResponseMs.WithLabelValues(provider).Set(float64(responseMs))
}
