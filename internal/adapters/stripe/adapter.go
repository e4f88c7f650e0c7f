// Package stripe adapts Stripe PaymentIntents to the provider contract. The
// payer confirms client-side with Stripe Elements; the server creates the
// intent and later reads its final status.
package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/transport"
	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
	pkghttp "github.com/kevin07696/esim-checkout/pkg/http"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const metadataIdempotencyKey = "idempotency_key"

// Config holds Stripe credentials
type Config struct {
	SecretKey string
	// APIURL overrides https://api.stripe.com, used by tests
	APIURL string
}

// Adapter implements ports.ProviderAdapter on top of stripe-go
type Adapter struct {
	api      *client.API
	breaker  *resilience.CircuitBreaker
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger
}

var _ ports.ProviderAdapter = (*Adapter)(nil)

// NewAdapter builds a Stripe client with SDK retries disabled and its leveled
// logger routed through zap.
func NewAdapter(cfg Config, httpClient *http.Client, timeouts *resilience.TimeoutConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.SecretKey == "" {
		return nil, domain.ErrMissingCredentials.Withf("stripe secret key is required")
	}
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if httpClient == nil {
		httpClient = pkghttp.NewHTTPClient(pkghttp.ProviderClientConfig(), timeouts.ProviderCall)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", domain.ProviderStripe))

	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     logger.Sugar(),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripego.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	return &Adapter{
		api: client.New(cfg.SecretKey, &stripego.Backends{
			API:     backend,
			Connect: backend,
			Uploads: backend,
		}),
		breaker:  transport.NewBreaker(domain.ProviderStripe, logger),
		timeouts: timeouts,
		logger:   logger,
	}, nil
}

// Slug implements ProviderAdapter
func (a *Adapter) Slug() string { return domain.ProviderStripe }

// Name implements ProviderAdapter
func (a *Adapter) Name() string { return "Stripe" }

// Initiate creates a PaymentIntent keyed by the TransactionIdentifier and
// hands the client secret back for Stripe Elements.
func (a *Adapter) Initiate(ctx context.Context, req *domain.PaymentIntentRequest) (*domain.GatewayOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cur, err := domain.LookupCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	minor, err := cur.ToMinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(minor),
		Currency: stripego.String(strings.ToLower(cur.Code)),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
		Description: stripego.String("Order " + req.OrderID),
	}
	if req.Customer != nil && req.Customer.Email != "" {
		params.ReceiptEmail = stripego.String(req.Customer.Email)
	}
	params.SetIdempotencyKey(req.TransactionID)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("transaction_id", req.TransactionID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	var pi *stripego.PaymentIntent
	err = a.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var callErr error
		pi, callErr = a.api.PaymentIntents.New(params)
		return mapError(callErr)
	})
	if err != nil {
		a.logger.Warn("Failed to create payment intent", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return nil, err
	}

	a.logger.Info("Payment intent created",
		zap.String("transaction_id", req.TransactionID),
		zap.String("payment_intent", pi.ID),
	)

	return &domain.GatewayOutcome{
		Kind:              domain.OutcomePendingChallenge,
		TransactionID:     req.TransactionID,
		ProviderReference: pi.ID,
		Amount:            req.Amount,
		Currency:          cur.Code,
		Action: &domain.PayerAction{
			Kind:            domain.ActionClientSecret,
			RedirectContent: pi.ClientSecret,
			Reference:       pi.ID,
		},
	}, nil
}

// Confirm reads the intent the payer confirmed client-side. Reading is
// naturally idempotent: a second confirm of a succeeded intent returns the
// same approval and captures nothing.
func (a *Adapter) Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.GatewayOutcome, error) {
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		return nil, domain.ErrValidationFailed.Withf("payment_intent is required")
	}

	pi, err := a.getIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}

	txID := pi.Metadata["transaction_id"]
	if txID == "" {
		txID = req.TransactionID
	}
	cur, err := domain.LookupCurrency(string(pi.Currency))
	if err != nil {
		return nil, domain.ErrInvalidProviderReply.Wrap(err)
	}

	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		return domain.Approved(txID, pi.ID, cur.FromMinorUnits(pi.AmountReceived), cur.Code), nil

	case stripego.PaymentIntentStatusRequiresPaymentMethod, stripego.PaymentIntentStatusCanceled:
		code, category, msg := string(pi.Status), pkgerrors.CategoryDeclined, ""
		if pi.LastPaymentError != nil {
			code, category = declineCategory(pi.LastPaymentError)
			msg = pi.LastPaymentError.Msg
		}
		outcome := domain.Declined(txID, code, category, msg)
		outcome.ProviderReference = pi.ID
		return outcome, nil

	default:
		// processing, requires_action, requires_confirmation, requires_capture
		outcome := domain.RequiresRetry(txID, domain.ErrProviderError.Withf("payment intent is %s", pi.Status))
		outcome.ProviderReference = pi.ID
		return outcome, nil
	}
}

// Refund returns an existing refund made under the same idempotency key
// before creating a new one.
func (a *Adapter) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	if req.Amount == nil {
		return nil, domain.ErrInvalidAmount.Withf("refund amount must be resolved before calling the provider")
	}
	if req.ProviderReference == "" {
		return nil, domain.ErrTransactionNotFound.Withf("payment intent reference is missing")
	}
	cur, err := domain.LookupCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	minor, err := cur.ToMinorUnits(*req.Amount)
	if err != nil {
		return nil, err
	}

	prior, err := a.listRefunds(ctx, req.ProviderReference, cur)
	if err != nil {
		return nil, err
	}
	for i := range prior {
		if prior[i].IdempotencyKey == req.IdempotencyKey {
			a.logger.Info("Refund already issued for idempotency key",
				zap.String("transaction_id", req.TransactionID),
				zap.String("refund_id", prior[i].RefundID),
			)
			return prior[i].Response(req.TransactionID, cur.Code), nil
		}
	}

	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.ProviderReference),
		Amount:        stripego.Int64(minor),
		Reason:        stripego.String(string(req.Reason)),
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(metadataIdempotencyKey, req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("transaction_id", req.TransactionID)

	var r *stripego.Refund
	err = a.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var callErr error
		r, callErr = a.api.Refunds.New(params)
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	return &domain.RefundResponse{
		RefundID:       r.ID,
		TransactionID:  req.TransactionID,
		Status:         refundStatus(r.Status),
		RawStatus:      string(r.Status),
		Amount:         cur.FromMinorUnits(r.Amount),
		Currency:       cur.Code,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

// Lookup reads the intent, its latest charge and its refunds
func (a *Adapter) Lookup(ctx context.Context, reference string) (*domain.TransactionDetails, error) {
	if reference == "" {
		return nil, domain.ErrValidationFailed.Withf("payment intent reference is required")
	}

	pi, err := a.getIntent(ctx, reference)
	if err != nil {
		return nil, err
	}
	cur, err := domain.LookupCurrency(string(pi.Currency))
	if err != nil {
		return nil, domain.ErrInvalidProviderReply.Wrap(err)
	}

	details := &domain.TransactionDetails{
		Reference: pi.ID,
		Currency:  cur.Code,
		Amount:    cur.FromMinorUnits(pi.Amount),
	}
	switch pi.Status {
	case stripego.PaymentIntentStatusSucceeded:
		details.Status = domain.PaymentStatusApproved
		details.CapturedAmount = cur.FromMinorUnits(pi.AmountReceived)
	case stripego.PaymentIntentStatusCanceled:
		details.Status = domain.PaymentStatusDeclined
	case stripego.PaymentIntentStatusRequiresPaymentMethod:
		details.Status = domain.PaymentStatusPending
		if pi.LastPaymentError != nil {
			details.Status = domain.PaymentStatusDeclined
		}
	default:
		details.Status = domain.PaymentStatusPending
	}
	if pi.LatestCharge != nil {
		if pi.LatestCharge.AmountCaptured > 0 {
			details.CapturedAmount = cur.FromMinorUnits(pi.LatestCharge.AmountCaptured)
		}
		details.RefundedAmount = cur.FromMinorUnits(pi.LatestCharge.AmountRefunded)
	}

	if details.Status == domain.PaymentStatusApproved {
		details.Refunds, err = a.listRefunds(ctx, pi.ID, cur)
		if err != nil {
			return nil, err
		}
	}
	return details, nil
}

// HealthCheck reads the account balance, which has no side effects
func (a *Adapter) HealthCheck(ctx context.Context) domain.ProviderHealth {
	start := time.Now()
	err := a.call(ctx, func(ctx context.Context) error {
		params := &stripego.BalanceParams{}
		params.Context = ctx
		_, callErr := a.api.Balance.Get(params)
		return mapError(callErr)
	})
	return domain.NewProviderHealth(a.Slug(), a.Name(), start, err)
}

func (a *Adapter) getIntent(ctx context.Context, id string) (*stripego.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.AddExpand("latest_charge")

	var pi *stripego.PaymentIntent
	err := a.call(ctx, func(ctx context.Context) error {
		params.Context = ctx
		var callErr error
		pi, callErr = a.api.PaymentIntents.Get(id, params)
		return mapError(callErr)
	})
	return pi, err
}

func (a *Adapter) listRefunds(ctx context.Context, paymentIntentID string, cur domain.Currency) ([]domain.RefundRecord, error) {
	var records []domain.RefundRecord
	err := a.call(ctx, func(ctx context.Context) error {
		params := &stripego.RefundListParams{PaymentIntent: stripego.String(paymentIntentID)}
		params.Context = ctx
		params.Limit = stripego.Int64(100)

		records = records[:0]
		it := a.api.Refunds.List(params)
		for it.Next() {
			r := it.Refund()
			records = append(records, domain.RefundRecord{
				RefundID:       r.ID,
				IdempotencyKey: r.Metadata[metadataIdempotencyKey],
				Status:         refundStatus(r.Status),
				RawStatus:      string(r.Status),
				Amount:         cur.FromMinorUnits(r.Amount),
				CreatedAt:      time.Unix(r.Created, 0).UTC(),
			})
		}
		return mapError(it.Err())
	})
	return records, err
}

// call applies the per-call timeout and the breaker
func (a *Adapter) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := a.timeouts.ProviderCallContext(ctx)
	defer cancel()
	return transport.Classify(a.breaker.Execute(callCtx, fn))
}

func refundStatus(s stripego.RefundStatus) domain.RefundStatus {
	switch string(s) {
	case "succeeded":
		return domain.RefundStatusSucceeded
	case "pending":
		return domain.RefundStatusPending
	case "requires_action":
		return domain.RefundStatusRequiresAction
	default:
		// failed, canceled
		return domain.RefundStatusFailed
	}
}

// mapError converts stripe-go errors into the domain taxonomy
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return transport.Classify(err)
	}

	switch {
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		return domain.ErrProviderError.Wrap(err)
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden:
		return domain.ErrMissingCredentials.Withf("stripe rejected the configured key").Wrap(err)
	}

	switch string(stripeErr.Code) {
	case "resource_missing":
		return domain.ErrTransactionNotFound.Wrap(err)
	case "charge_already_refunded":
		return domain.ErrAlreadyRefunded.Wrap(err)
	case "amount_too_large":
		return domain.ErrRefundExceedsRemaining.Wrap(err)
	case "idempotency_key_in_use":
		return domain.ErrRefundInProgress.Wrap(err)
	}
	return domain.ErrValidationFailed.Withf("stripe rejected the request: %s", stripeErr.Msg).Wrap(err)
}

// declineCategory normalizes a card error attached to a failed intent
func declineCategory(e *stripego.Error) (string, pkgerrors.ErrorCategory) {
	code := string(e.DeclineCode)
	if code == "" {
		code = string(e.Code)
	}
	switch code {
	case "insufficient_funds":
		return code, pkgerrors.CategoryInsufficientFunds
	case "expired_card":
		return code, pkgerrors.CategoryExpiredCard
	case "incorrect_cvc", "incorrect_number", "invalid_cvc", "invalid_number", "invalid_expiry_month", "invalid_expiry_year":
		return code, pkgerrors.CategoryInvalidCard
	case "fraudulent", "stolen_card", "lost_card", "pickup_card":
		return code, pkgerrors.CategoryFraud
	case "payment_intent_authentication_failure", "authentication_required":
		return code, pkgerrors.CategoryAuthenticationFailed
	case "processing_error":
		return code, pkgerrors.CategorySystemError
	}
	return code, pkgerrors.CategoryDeclined
}
