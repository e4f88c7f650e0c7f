package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

// PaymentLedger is the payment core's record of attempts and refunds. Only the
// checkout service, Confirmation Router and Refund Orchestrator write to it.
type PaymentLedger interface {
	RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	GetAttempt(ctx context.Context, transactionID string) (*domain.PaymentAttempt, error)
	GetAttemptByReference(ctx context.Context, provider, reference string) (*domain.PaymentAttempt, error)
	LatestAttemptForOrder(ctx context.Context, orderID string) (*domain.PaymentAttempt, error)

	// MarkPaidGuest attaches an approved attempt to an anonymous order-access record.
	MarkPaidGuest(ctx context.Context, transactionID, guestTokenID string) error
	// MarkPaidAccount attaches an approved attempt to an authenticated account's order history.
	MarkPaidAccount(ctx context.Context, transactionID, accountID string) error
	MarkDeclined(ctx context.Context, transactionID, reasonCode string) error

	GetRefundByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.RefundRecord, error)
	// SaveRefund upserts a refund by idempotency key and keeps the attempt's
	// refunded total in step.
	SaveRefund(ctx context.Context, transactionID string, refund *domain.RefundRecord, refundedDelta decimal.Decimal) error
}

// Notifier delivers post-confirmation notices. Delivery itself is owned by an
// external system.
type Notifier interface {
	NotifyGuest(ctx context.Context, orderID, email string) error
	NotifyAccount(ctx context.Context, accountID, orderID string) error
}
