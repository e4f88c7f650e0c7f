// Package transport holds the pieces every provider adapter shares on the
// network side: error classification and circuit breaker construction.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/pkg/observability"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

// Classify maps a transport-level failure onto the domain taxonomy. Errors
// that already are DomainErrors pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return domain.ErrProviderUnavailable.Wrap(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrProviderTimeout.Wrap(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrProviderTimeout.Wrap(err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrProviderTimeout.Wrap(err)
	}
	return domain.ErrProviderUnavailable.Wrap(err)
}

// StatusError converts a non-2xx provider status into a domain error. 5xx and
// 429 are transient; 401/403 point at bad credentials; other 4xx are caller
// errors.
func StatusError(status int, body string) error {
	cause := fmt.Errorf("provider responded %d: %s", status, truncate(body, 256))
	switch {
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return domain.ErrProviderError.Wrap(cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrMissingCredentials.Withf("provider rejected the configured credentials").Wrap(cause)
	case status == http.StatusNotFound:
		return domain.ErrTransactionNotFound.Wrap(cause)
	default:
		return domain.ErrValidationFailed.Withf("provider rejected the request").Wrap(cause)
	}
}

// NewBreaker builds the circuit breaker for one provider. Only transient
// errors count toward opening it, and state changes feed the breaker gauge.
func NewBreaker(slug string, logger *zap.Logger) *resilience.CircuitBreaker {
	cfg := resilience.DefaultCircuitBreakerConfig(slug)
	cfg.IsFailure = domain.IsTransientError
	cfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		observability.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		logger.Warn("Provider circuit breaker changed state",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return resilience.NewCircuitBreaker(cfg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
