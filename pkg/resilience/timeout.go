package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the service's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	HTTP Handler (30s)
//	  ↓
//	Confirmation incl. status re-check (25s)
//	  ↓
//	Provider call (10s)
//
// A confirm that hits the provider call timeout still has budget left for the
// status re-check inside the confirmation budget.
type TimeoutConfig struct {
	HTTPHandler   time.Duration // Overall request timeout
	Confirmation  time.Duration // Confirm plus status re-check
	ProviderCall  time.Duration // Single outbound provider call
	StatusRecheck time.Duration // Total budget for read-only lookups after a timeout
	HealthCheck   time.Duration // Single provider health probe
	HealthSweep   time.Duration // Full fan-out sweep
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:   30 * time.Second,
		Confirmation:  25 * time.Second,
		ProviderCall:  10 * time.Second,
		StatusRecheck: 12 * time.Second,
		HealthCheck:   5 * time.Second,
		HealthSweep:   20 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:   3 * time.Second,
		Confirmation:  2 * time.Second,
		ProviderCall:  500 * time.Millisecond,
		StatusRecheck: time.Second,
		HealthCheck:   500 * time.Millisecond,
		HealthSweep:   2 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// ConfirmationContext bounds a confirm call together with its status re-check
func (tc *TimeoutConfig) ConfirmationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Confirmation)
}

// ProviderCallContext bounds a single outbound provider call
func (tc *TimeoutConfig) ProviderCallContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ProviderCall)
}

// StatusRecheckContext bounds the lookups made after a confirm timed out.
// It derives from context.Background so an expired confirm deadline does not
// starve the re-check. Values from parent are kept.
func (tc *TimeoutConfig) StatusRecheckContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), tc.StatusRecheck)
}

// HealthCheckContext bounds a single provider health probe
func (tc *TimeoutConfig) HealthCheckContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HealthCheck)
}

// HealthSweepContext bounds a full health fan-out
func (tc *TimeoutConfig) HealthSweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HealthSweep)
}
