// Package refund issues full and partial refunds against approved attempts
// without ever refunding the same idempotency key twice or refunding more
// than was captured.
package refund

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/pkg/observability"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const defaultLockTTL = 30 * time.Second

// AdapterResolver looks adapters up by explicit provider tag
type AdapterResolver interface {
	Get(slug string) (ports.ProviderAdapter, error)
}

// Orchestrator validates refunds against the ledger and the provider, then
// delegates to the adapter. Refunds against the same transaction are
// serialized, whatever their idempotency keys.
type Orchestrator struct {
	adapters AdapterResolver
	ledger   ports.PaymentLedger
	locker   ports.RefundLocker
	timeouts *resilience.TimeoutConfig
	logger   ports.Logger
	lockTTL  time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLockTTL sets how long a refund lock may be held
func WithLockTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// NewOrchestrator creates a refund orchestrator
func NewOrchestrator(
	adapters AdapterResolver,
	ledger ports.PaymentLedger,
	locker ports.RefundLocker,
	timeouts *resilience.TimeoutConfig,
	logger ports.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		adapters: adapters,
		ledger:   ledger,
		locker:   locker,
		timeouts: timeouts,
		logger:   logger,
		lockTTL:  defaultLockTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Refund issues req. A nil amount refunds the remaining balance. A request
// whose idempotency key was already refunded returns the earlier refund
// instead of issuing a new one.
func (o *Orchestrator) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	slug := strings.ToLower(strings.TrimSpace(req.Provider))
	adapter, err := o.adapters.Get(slug)
	if err != nil {
		return nil, err
	}

	attempt, err := o.ledger.GetAttempt(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if attempt.Provider != slug || attempt.OrderID != req.OrderID {
		return nil, domain.ErrTransactionNotFound.Withf("no %s transaction %s for order %s", slug, req.TransactionID, req.OrderID)
	}
	if !strings.EqualFold(attempt.Currency, req.Currency) {
		return nil, domain.ErrValidationFailed.Withf("refund currency %s does not match payment currency %s", req.Currency, attempt.Currency)
	}

	prior, err := o.priorRefund(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior.Response(attempt.TransactionID, attempt.Currency), nil
	}

	if err := attempt.CanRefund(refundAmount(attempt, req)); err != nil {
		return nil, err
	}

	var resp *domain.RefundResponse
	err = o.locker.WithLock(ctx, attempt.TransactionID, o.lockTTL, func(ctx context.Context) error {
		var err error
		resp, err = o.issue(ctx, adapter, req)
		return err
	})
	if err != nil {
		observability.RecordPaymentOperation(slug, "refund", "error", time.Since(start).Seconds())
		o.logger.Warn("Refund failed",
			ports.String("provider", slug),
			ports.String("transaction_id", attempt.TransactionID),
			ports.String("code", string(domain.GetErrorCode(err))),
			ports.Bool("retryable", domain.IsRetryable(err)),
			ports.Err(err),
		)
		return nil, err
	}

	observability.RecordPaymentOperation(slug, "refund", string(resp.Status), time.Since(start).Seconds())
	if cur, err := domain.LookupCurrency(resp.Currency); err == nil {
		if minor, err := cur.ToMinorUnits(resp.Amount); err == nil {
			observability.RecordRefundAmount(slug, cur.Code, minor)
		}
	}
	o.logger.Info("Refund issued",
		ports.String("provider", slug),
		ports.String("transaction_id", attempt.TransactionID),
		ports.String("refund_id", resp.RefundID),
		ports.String("status", string(resp.Status)),
	)
	return resp, nil
}

// issue runs under the transaction lock. The attempt is read again so a
// refund that finished while this caller waited counts against the balance.
func (o *Orchestrator) issue(ctx context.Context, adapter ports.ProviderAdapter, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	attempt, err := o.ledger.GetAttempt(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	// Another holder of the lock may have finished first
	prior, err := o.priorRefund(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return prior.Response(attempt.TransactionID, attempt.Currency), nil
	}
	amount := refundAmount(attempt, req)
	if err := attempt.CanRefund(amount); err != nil {
		return nil, err
	}

	reference := attempt.ProviderReference
	if reference == "" {
		reference = attempt.TransactionID
	}

	lookupCtx, cancel := o.timeouts.ProviderCallContext(ctx)
	details, err := adapter.Lookup(lookupCtx, reference)
	cancel()
	if err != nil {
		return nil, err
	}

	// The provider already processed this key; record it and return it.
	if rec := details.FindRefund(req.IdempotencyKey); rec != nil {
		if err := o.save(ctx, attempt, rec); err != nil {
			return nil, err
		}
		return rec.Response(attempt.TransactionID, attempt.Currency), nil
	}

	if details.Status != domain.PaymentStatusApproved {
		return nil, domain.ErrNotYetCaptured
	}
	remaining := details.RemainingRefundable()
	if !remaining.IsPositive() {
		return nil, domain.ErrAlreadyRefunded
	}
	if req.Amount == nil && amount.GreaterThan(remaining) {
		amount = remaining
	}
	if amount.GreaterThan(remaining) {
		return nil, domain.ErrRefundExceedsRemaining.Withf("refund of %s exceeds remaining %s", amount.String(), remaining.String())
	}

	call := *req
	call.Provider = adapter.Slug()
	call.Amount = &amount
	call.Currency = attempt.Currency
	call.ProviderReference = reference

	refundCtx, cancel := o.timeouts.ProviderCallContext(ctx)
	resp, err := adapter.Refund(refundCtx, &call)
	cancel()
	if err != nil {
		return nil, err
	}
	if !resp.Status.Valid() {
		return nil, domain.ErrInvalidProviderReply.Withf("%s refund status %q is not recognized", adapter.Slug(), resp.Status)
	}

	if resp.TransactionID == "" {
		resp.TransactionID = attempt.TransactionID
	}
	if resp.IdempotencyKey == "" {
		resp.IdempotencyKey = req.IdempotencyKey
	}
	if resp.Currency == "" {
		resp.Currency = attempt.Currency
	}
	if resp.Amount.IsZero() {
		resp.Amount = amount
	}

	rec := &domain.RefundRecord{
		RefundID:       resp.RefundID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         resp.Status,
		RawStatus:      resp.RawStatus,
		Amount:         resp.Amount,
	}
	if err := o.save(ctx, attempt, rec); err != nil {
		// The provider holds the refund under this key; a retry finds it
		// through Lookup and records it then.
		return nil, err
	}
	return resp, nil
}

// refundAmount is the requested amount, or the ledger balance when none was given
func refundAmount(attempt *domain.PaymentAttempt, req *domain.RefundRequest) decimal.Decimal {
	if req.Amount != nil {
		return *req.Amount
	}
	return attempt.Amount.Sub(attempt.RefundedAmount)
}

func (o *Orchestrator) save(ctx context.Context, attempt *domain.PaymentAttempt, rec *domain.RefundRecord) error {
	delta := decimal.Zero
	if rec.Status.CountsAgainstBalance() {
		delta = rec.Amount
	}
	if err := o.ledger.SaveRefund(ctx, attempt.TransactionID, rec, delta); err != nil {
		o.logger.Error("Failed to record refund",
			ports.String("transaction_id", attempt.TransactionID),
			ports.String("refund_id", rec.RefundID),
			ports.Err(err),
		)
		return err
	}
	return nil
}

func (o *Orchestrator) priorRefund(ctx context.Context, key string) (*domain.RefundRecord, error) {
	rec, err := o.ledger.GetRefundByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
