// Package razorpay adapts Razorpay Orders and Checkout to the provider
// contract. The payer pays in Razorpay Checkout and returns with an
// order_id/payment_id/signature triple.
package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/transport"
	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
	pkghttp "github.com/kevin07696/esim-checkout/pkg/http"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const (
	notesIdempotencyKey = "idempotency_key"
	notesTransactionID  = "transaction_id"
)

// Config holds Razorpay API keys
type Config struct {
	BaseURL      string
	KeyID        string
	KeySecret    string
	MerchantName string
}

// Adapter implements ports.ProviderAdapter for Razorpay
type Adapter struct {
	client   *resty.Client
	breaker  *resilience.CircuitBreaker
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger
	config   Config
}

var _ ports.ProviderAdapter = (*Adapter)(nil)

// NewAdapter creates a Razorpay adapter
func NewAdapter(cfg Config, httpClient *http.Client, timeouts *resilience.TimeoutConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, domain.ErrMissingCredentials.Withf("razorpay key id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com"
	}
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", domain.ProviderRazorpay))

	client := pkghttp.NewRestyClient(strings.TrimRight(cfg.BaseURL, "/"), httpClient, logger).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret)

	return &Adapter{
		client:   client,
		breaker:  transport.NewBreaker(domain.ProviderRazorpay, logger),
		timeouts: timeouts,
		logger:   logger,
		config:   cfg,
	}, nil
}

// Slug implements ProviderAdapter
func (a *Adapter) Slug() string { return domain.ProviderRazorpay }

// Name implements ProviderAdapter
func (a *Adapter) Name() string { return "Razorpay" }

// Initiate creates an order and returns the Checkout options for the payer
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

	body := createOrderRequest{
		Amount:   minor,
		Currency: cur.Code,
		Receipt:  req.TransactionID,
		Notes: notes{
			"order_id":         req.OrderID,
			notesTransactionID: req.TransactionID,
		},
	}
	var o orderResponse
	if err := a.send(ctx, http.MethodPost, "/v1/orders", body, &o); err != nil {
		a.logger.Warn("Failed to create order", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return nil, err
	}

	options, err := json.Marshal(checkoutOptions{
		Key:         a.config.KeyID,
		OrderID:     o.ID,
		Amount:      minor,
		Currency:    cur.Code,
		Name:        a.config.MerchantName,
		CallbackURL: req.ReturnURL,
		Redirect:    req.ReturnURL != "",
	})
	if err != nil {
		return nil, domain.ErrInternalError.Wrap(err)
	}

	a.logger.Info("Order created", zap.String("transaction_id", req.TransactionID), zap.String("order", o.ID))

	return &domain.GatewayOutcome{
		Kind:              domain.OutcomePendingChallenge,
		TransactionID:     req.TransactionID,
		ProviderReference: o.ID,
		Amount:            req.Amount,
		Currency:          cur.Code,
		Action: &domain.PayerAction{
			Kind:            domain.ActionCheckoutOrder,
			RedirectContent: string(options),
			Reference:       o.ID,
		},
	}, nil
}

// Confirm verifies the Checkout signature, then reads the payment and
// captures it if it is only authorized.
func (a *Adapter) Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.GatewayOutcome, error) {
	if !VerifySignature(req.OrderID, req.PaymentID, req.Signature, a.config.KeySecret) {
		a.logger.Warn("Rejected checkout signature", zap.String("order", req.OrderID))
		return nil, domain.ErrInvalidSignature
	}

	p, err := a.getPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if p.OrderID != req.OrderID {
		return nil, domain.ErrInvalidSignature.Withf("payment %s does not belong to order %s", p.ID, req.OrderID)
	}

	if p.Status == paymentAuthorized {
		captured, err := a.capture(ctx, p)
		if err != nil {
			return nil, err
		}
		p = captured
	}
	return a.outcomeFor(p, req.TransactionID)
}

func (a *Adapter) capture(ctx context.Context, p *payment) (*payment, error) {
	var out payment
	path := "/v1/payments/" + url.PathEscape(p.ID) + "/capture"
	err := a.send(ctx, http.MethodPost, path, captureRequest{Amount: p.Amount, Currency: p.Currency}, &out)
	if err == nil {
		return &out, nil
	}
	// A concurrent or earlier confirm may have captured it already
	if domain.IsValidationError(err) {
		again, getErr := a.getPayment(ctx, p.ID)
		if getErr == nil && again.isCaptured() {
			return again, nil
		}
	}
	return nil, err
}

func (a *Adapter) outcomeFor(p *payment, fallbackTxID string) (*domain.GatewayOutcome, error) {
	txID := p.Notes[notesTransactionID]
	if txID == "" {
		txID = fallbackTxID
	}
	cur, err := domain.LookupCurrency(p.Currency)
	if err != nil {
		return nil, domain.ErrInvalidProviderReply.Wrap(err)
	}

	switch {
	case p.isCaptured():
		return domain.Approved(txID, p.OrderID, cur.FromMinorUnits(p.Amount), cur.Code), nil
	case p.Status == paymentFailed:
		code := p.ErrorReason
		if code == "" {
			code = p.ErrorCode
		}
		outcome := domain.Declined(txID, code, declineCategory(p.ErrorReason), p.ErrorDescription)
		outcome.ProviderReference = p.OrderID
		return outcome, nil
	default:
		outcome := domain.RequiresRetry(txID, domain.ErrProviderError.Withf("payment %s is %s", p.ID, p.Status))
		outcome.ProviderReference = p.OrderID
		return outcome, nil
	}
}

// Refund refunds the captured payment behind the order. A refund carrying
// the same idempotency key in its notes is returned instead of a new one.
func (a *Adapter) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	if req.Amount == nil {
		return nil, domain.ErrInvalidAmount.Withf("refund amount must be resolved before calling the provider")
	}
	if req.ProviderReference == "" {
		return nil, domain.ErrTransactionNotFound.Withf("razorpay reference is missing")
	}
	cur, err := domain.LookupCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	minor, err := cur.ToMinorUnits(*req.Amount)
	if err != nil {
		return nil, err
	}

	p, err := a.resolvePayment(ctx, req.ProviderReference)
	if err != nil {
		return nil, err
	}
	if !p.isCaptured() {
		return nil, domain.ErrNotYetCaptured
	}

	prior, err := a.listRefunds(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range prior {
		if r.Notes[notesIdempotencyKey] == req.IdempotencyKey {
			return a.refundResponse(&r, req, cur), nil
		}
	}

	body := refundRequest{
		Amount:  minor,
		Speed:   "normal",
		Receipt: req.IdempotencyKey,
		Notes: notes{
			notesIdempotencyKey: req.IdempotencyKey,
			"reason":            string(req.Reason),
			"order_id":          req.OrderID,
		},
	}
	var r refund
	if err := a.send(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(p.ID)+"/refund", body, &r); err != nil {
		return nil, err
	}
	return a.refundResponse(&r, req, cur), nil
}

func (a *Adapter) refundResponse(r *refund, req *domain.RefundRequest, cur domain.Currency) *domain.RefundResponse {
	return &domain.RefundResponse{
		RefundID:       r.ID,
		TransactionID:  req.TransactionID,
		Status:         refundStatus(r.Status),
		RawStatus:      r.Status,
		Amount:         cur.FromMinorUnits(r.Amount),
		Currency:       cur.Code,
		IdempotencyKey: req.IdempotencyKey,
	}
}

// Lookup accepts an order id (order_...) or a payment id
func (a *Adapter) Lookup(ctx context.Context, reference string) (*domain.TransactionDetails, error) {
	if reference == "" {
		return nil, domain.ErrValidationFailed.Withf("razorpay reference is required")
	}

	p, err := a.resolvePayment(ctx, reference)
	if err != nil {
		return nil, err
	}
	cur, err := domain.LookupCurrency(p.Currency)
	if err != nil {
		return nil, domain.ErrInvalidProviderReply.Wrap(err)
	}

	details := &domain.TransactionDetails{
		Reference:      reference,
		Currency:       cur.Code,
		Amount:         cur.FromMinorUnits(p.Amount),
		RefundedAmount: cur.FromMinorUnits(p.AmountRefunded),
	}
	switch {
	case p.isCaptured():
		details.Status = domain.PaymentStatusApproved
		details.CapturedAmount = cur.FromMinorUnits(p.Amount)
	case p.Status == paymentFailed:
		details.Status = domain.PaymentStatusDeclined
	default:
		details.Status = domain.PaymentStatusPending
	}

	if details.Status == domain.PaymentStatusApproved {
		refunds, err := a.listRefunds(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range refunds {
			details.Refunds = append(details.Refunds, domain.RefundRecord{
				RefundID:       r.ID,
				IdempotencyKey: r.Notes[notesIdempotencyKey],
				Status:         refundStatus(r.Status),
				RawStatus:      r.Status,
				Amount:         cur.FromMinorUnits(r.Amount),
				CreatedAt:      time.Unix(r.CreatedAt, 0).UTC(),
			})
		}
	}
	return details, nil
}

// HealthCheck lists a single order, which needs valid keys and has no side
// effects.
func (a *Adapter) HealthCheck(ctx context.Context) domain.ProviderHealth {
	start := time.Now()
	err := a.send(ctx, http.MethodGet, "/v1/orders?count=1", nil, nil)
	return domain.NewProviderHealth(a.Slug(), a.Name(), start, err)
}

// resolvePayment maps an order id onto its most relevant payment: the
// captured one if any, otherwise the latest attempt.
func (a *Adapter) resolvePayment(ctx context.Context, reference string) (*payment, error) {
	if !strings.HasPrefix(reference, "order_") {
		return a.getPayment(ctx, reference)
	}

	var list paymentList
	if err := a.send(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(reference)+"/payments", nil, &list); err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return &payment{OrderID: reference, Status: paymentCreated}, nil
	}
	for i := range list.Items {
		if list.Items[i].isCaptured() {
			return &list.Items[i], nil
		}
	}
	return &list.Items[0], nil
}

func (a *Adapter) getPayment(ctx context.Context, id string) (*payment, error) {
	var p payment
	if err := a.send(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *Adapter) listRefunds(ctx context.Context, paymentID string) ([]refund, error) {
	var list refundList
	if err := a.send(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID)+"/refunds?count=100", nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (a *Adapter) send(ctx context.Context, method, path string, body, out interface{}) error {
	callCtx, cancel := a.timeouts.ProviderCallContext(ctx)
	defer cancel()

	err := a.breaker.Execute(callCtx, func(ctx context.Context) error {
		apiErr := &apiError{}
		r := a.client.R().SetContext(ctx).SetError(apiErr)
		if body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(body)
		}
		if out != nil {
			r.SetResult(out)
		}
		resp, err := r.Execute(method, path)
		if err != nil {
			return transport.Classify(err)
		}
		if resp.IsError() {
			msg := resp.String()
			if apiErr.Error.Description != "" {
				msg = apiErr.Error.Code + ": " + apiErr.Error.Description
			}
			return transport.StatusError(resp.StatusCode(), msg)
		}
		return nil
	})
	return transport.Classify(err)
}

// declineCategory maps Razorpay's error_reason onto the shared categories
func declineCategory(reason string) pkgerrors.ErrorCategory {
	switch reason {
	case "insufficient_funds", "insufficient_balance":
		return pkgerrors.CategoryInsufficientFunds
	case "card_expired":
		return pkgerrors.CategoryExpiredCard
	case "incorrect_card_details", "invalid_card_number", "incorrect_cvv":
		return pkgerrors.CategoryInvalidCard
	case "payment_risk_check_failed", "card_reported_lost", "card_reported_stolen":
		return pkgerrors.CategoryFraud
	case "authentication_failed", "incorrect_otp":
		return pkgerrors.CategoryAuthenticationFailed
	case "payment_timed_out", "server_error", "bank_technical_error":
		return pkgerrors.CategorySystemError
	}
	return pkgerrors.CategoryDeclined
}
