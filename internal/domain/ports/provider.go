package ports

import (
	"context"
	"time"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

// ProviderAdapter translates generic payment operations into one processor's
// wire protocol. Implementations hold no state beyond their client configuration.
type ProviderAdapter interface {
	// Slug is the stable provider tag used for routing, e.g. "stripe".
	Slug() string
	// Name is the human readable provider name.
	Name() string

	// Initiate starts a payment. Valid requests yield an approved, declined or
	// pending-challenge outcome. Configuration and validation problems are
	// returned as errors before any network call.
	Initiate(ctx context.Context, req *domain.PaymentIntentRequest) (*domain.GatewayOutcome, error)

	// Confirm exchanges the provider's correlation artifact for a final outcome.
	// Confirming an already approved artifact returns the same approval.
	Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.GatewayOutcome, error)

	// Refund issues a refund against an approved transaction. Transient
	// failures are retryable with the same idempotency key.
	Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error)

	// Lookup is a read-only status query used for refund validation and for
	// re-checking a confirm that timed out.
	Lookup(ctx context.Context, reference string) (*domain.TransactionDetails, error)

	// HealthCheck performs a cheap side-effect free call. It is never used on
	// the payment path.
	HealthCheck(ctx context.Context) domain.ProviderHealth
}

// StepUpAdapter is implemented by PAN-based 3DS providers whose confirm leg
// consumes a ChallengeSession.
type StepUpAdapter interface {
	ProviderAdapter
	// ChallengeWindow is how long a challenge token stays confirmable.
	ChallengeWindow() time.Duration
}
