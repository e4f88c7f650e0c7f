// Package paypal adapts PayPal Orders v2 to the provider contract: the order is
// created server-side, approved by the payer on PayPal, then captured.
package paypal

import (
	"context"
	"errors"
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

// Config holds PayPal REST credentials
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	BrandName    string
}

// Adapter implements ports.ProviderAdapter for PayPal
type Adapter struct {
	client   *resty.Client
	tokens   *tokenSource
	breaker  *resilience.CircuitBreaker
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger
}

var _ ports.ProviderAdapter = (*Adapter)(nil)

// NewAdapter creates a PayPal adapter. A nil httpClient gets the tuned
// provider client from pkg/http.
func NewAdapter(cfg Config, httpClient *http.Client, timeouts *resilience.TimeoutConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, domain.ErrMissingCredentials.Withf("paypal client id and secret are required")
	}
	if cfg.BaseURL == "" {
		return nil, domain.ErrMissingCredentials.Withf("paypal base url is required")
	}
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", domain.ProviderPayPal))

	client := pkghttp.NewRestyClient(strings.TrimRight(cfg.BaseURL, "/"), httpClient, logger)
	return &Adapter{
		client: client,
		tokens: &tokenSource{
			client:       client,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			now:          time.Now,
		},
		breaker:  transport.NewBreaker(domain.ProviderPayPal, logger),
		timeouts: timeouts,
		logger:   logger,
	}, nil
}

// Slug implements ProviderAdapter
func (a *Adapter) Slug() string { return domain.ProviderPayPal }

// Name implements ProviderAdapter
func (a *Adapter) Name() string { return "PayPal" }

// Initiate creates a CAPTURE-intent order and returns the approval link
func (a *Adapter) Initiate(ctx context.Context, req *domain.PaymentIntentRequest) (*domain.GatewayOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cur, err := domain.LookupCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := cur.ToMinorUnits(req.Amount); err != nil {
		return nil, err
	}

	source := &paymentSource{}
	source.PayPal.ExperienceContext = experienceContext{
		ReturnURL:          req.ReturnURL,
		CancelURL:          req.CancelURL,
		UserAction:         "PAY_NOW",
		ShippingPreference: "NO_SHIPPING",
	}
	if req.Customer != nil {
		source.PayPal.EmailAddress = req.Customer.Email
	}
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnitRequest{{
			ReferenceID: req.OrderID,
			CustomID:    req.TransactionID,
			InvoiceID:   req.TransactionID,
			Description: "Order " + req.OrderID,
			Amount:      money{CurrencyCode: cur.Code, Value: cur.Format(req.Amount)},
		}},
		PaymentSource: source,
	}

	var o order
	if err := a.send(ctx, http.MethodPost, "/v2/checkout/orders", req.TransactionID, body, &o); err != nil {
		a.logger.Warn("Failed to create order", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return nil, err
	}
	approval := o.approvalURL()
	if approval == "" {
		return nil, domain.ErrInvalidProviderReply.Withf("paypal order %s has no approval link", o.ID)
	}

	a.logger.Info("Order created", zap.String("transaction_id", req.TransactionID), zap.String("order", o.ID))

	return &domain.GatewayOutcome{
		Kind:              domain.OutcomePendingChallenge,
		TransactionID:     req.TransactionID,
		ProviderReference: o.ID,
		Amount:            req.Amount,
		Currency:          cur.Code,
		Action: &domain.PayerAction{
			Kind:            domain.ActionApprovalURL,
			RedirectContent: approval,
			Reference:       o.ID,
		},
	}, nil
}

// Confirm captures the approved order. A repeated confirm hits
// ORDER_ALREADY_CAPTURED and is answered from the order itself.
func (a *Adapter) Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.GatewayOutcome, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, domain.ErrValidationFailed.Withf("paypal order id is required")
	}

	var o order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	err := a.send(ctx, http.MethodPost, path, "capture-"+orderID, struct{}{}, &o)
	switch issue := issueOf(err); {
	case err == nil:
	case issue == issueAlreadyCaptured:
		a.logger.Info("Order already captured", zap.String("order", orderID))
		if err := a.getOrder(ctx, orderID, &o); err != nil {
			return nil, err
		}
	case issue == issueInstrumentDecline || issue == issueNotApproved || issue == issuePayerCannotPay:
		category := pkgerrors.CategoryDeclined
		if issue == issueNotApproved {
			category = pkgerrors.CategoryAuthenticationFailed
		}
		outcome := domain.Declined(req.TransactionID, issue, category, "")
		outcome.ProviderReference = orderID
		return outcome, nil
	default:
		return nil, err
	}

	return a.outcomeFor(&o, req.TransactionID)
}

func (a *Adapter) outcomeFor(o *order, fallbackTxID string) (*domain.GatewayOutcome, error) {
	txID := fallbackTxID
	if u := o.unit(); u != nil && u.CustomID != "" {
		txID = u.CustomID
	}

	c := o.capture()
	if c == nil {
		outcome := domain.RequiresRetry(txID, domain.ErrProviderError.Withf("order %s has no capture", o.ID))
		outcome.ProviderReference = o.ID
		return outcome, nil
	}

	switch c.Status {
	case captureCompleted, capturePartiallyRefunded, captureRefunded:
		cur, err := domain.LookupCurrency(c.Amount.CurrencyCode)
		if err != nil {
			return nil, domain.ErrInvalidProviderReply.Wrap(err)
		}
		amount, err := cur.ParseAmount(c.Amount.Value)
		if err != nil {
			return nil, err
		}
		return domain.Approved(txID, o.ID, amount, cur.Code), nil
	case captureDeclined, captureFailed:
		outcome := domain.Declined(txID, c.Status, pkgerrors.CategoryDeclined, "")
		outcome.ProviderReference = o.ID
		return outcome, nil
	default:
		outcome := domain.RequiresRetry(txID, domain.ErrProviderError.Withf("capture %s is %s", c.ID, c.Status))
		outcome.ProviderReference = o.ID
		return outcome, nil
	}
}

// Refund refunds the order's capture. invoice_id carries the idempotency key
// so a refund issued by an earlier attempt is found on the order.
func (a *Adapter) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	if req.Amount == nil {
		return nil, domain.ErrInvalidAmount.Withf("refund amount must be resolved before calling the provider")
	}
	if req.ProviderReference == "" {
		return nil, domain.ErrTransactionNotFound.Withf("paypal order reference is missing")
	}
	cur, err := domain.LookupCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := cur.ToMinorUnits(*req.Amount); err != nil {
		return nil, err
	}

	var o order
	if err := a.getOrder(ctx, req.ProviderReference, &o); err != nil {
		return nil, err
	}
	if u := o.unit(); u != nil {
		for _, r := range u.Payments.Refunds {
			if r.InvoiceID == req.IdempotencyKey {
				amount, err := cur.ParseAmount(r.Amount.Value)
				if err != nil {
					return nil, err
				}
				return &domain.RefundResponse{
					RefundID:       r.ID,
					TransactionID:  req.TransactionID,
					Status:         refundStatus(r.Status),
					RawStatus:      r.Status,
					Amount:         amount,
					Currency:       cur.Code,
					IdempotencyKey: req.IdempotencyKey,
				}, nil
			}
		}
	}
	c := o.capture()
	if c == nil || c.Status == capturePending || c.Status == captureDeclined || c.Status == captureFailed {
		return nil, domain.ErrNotYetCaptured
	}
	if c.Status == captureRefunded {
		return nil, domain.ErrAlreadyRefunded
	}

	body := refundRequest{
		Amount:    money{CurrencyCode: cur.Code, Value: cur.Format(*req.Amount)},
		InvoiceID: req.IdempotencyKey,
	}
	var r refund
	path := "/v2/payments/captures/" + url.PathEscape(c.ID) + "/refund"
	if err := a.send(ctx, http.MethodPost, path, req.IdempotencyKey, body, &r); err != nil {
		if issueOf(err) == "CAPTURE_FULLY_REFUNDED" {
			return nil, domain.ErrAlreadyRefunded.Wrap(err)
		}
		if issueOf(err) == "REFUND_AMOUNT_EXCEEDED" {
			return nil, domain.ErrRefundExceedsRemaining.Wrap(err)
		}
		return nil, err
	}

	amount := *req.Amount
	if r.Amount.Value != "" {
		if parsed, err := cur.ParseAmount(r.Amount.Value); err == nil {
			amount = parsed
		}
	}
	return &domain.RefundResponse{
		RefundID:       r.ID,
		TransactionID:  req.TransactionID,
		Status:         refundStatus(r.Status),
		RawStatus:      r.Status,
		Amount:         amount,
		Currency:       cur.Code,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

// Lookup reads the order and sums its captures and refunds
func (a *Adapter) Lookup(ctx context.Context, reference string) (*domain.TransactionDetails, error) {
	if reference == "" {
		return nil, domain.ErrValidationFailed.Withf("paypal order id is required")
	}

	var o order
	if err := a.getOrder(ctx, reference, &o); err != nil {
		return nil, err
	}

	details := &domain.TransactionDetails{Reference: o.ID, Status: domain.PaymentStatusPending}
	u := o.unit()
	if u == nil {
		return details, nil
	}
	cur, err := domain.LookupCurrency(u.Amount.CurrencyCode)
	if err != nil {
		return nil, domain.ErrInvalidProviderReply.Wrap(err)
	}
	details.Currency = cur.Code
	if details.Amount, err = cur.ParseAmount(u.Amount.Value); err != nil {
		return nil, err
	}
	if details.CapturedAmount, details.RefundedAmount, err = o.totals(cur); err != nil {
		return nil, err
	}

	switch {
	case details.CapturedAmount.IsPositive():
		details.Status = domain.PaymentStatusApproved
	case o.Status == orderVoided:
		details.Status = domain.PaymentStatusDeclined
	case o.Status == orderCompleted:
		if c := o.capture(); c != nil && (c.Status == captureDeclined || c.Status == captureFailed) {
			details.Status = domain.PaymentStatusDeclined
		}
	}

	for _, r := range u.Payments.Refunds {
		amount, err := cur.ParseAmount(r.Amount.Value)
		if err != nil {
			return nil, err
		}
		details.Refunds = append(details.Refunds, domain.RefundRecord{
			RefundID:       r.ID,
			IdempotencyKey: r.InvoiceID,
			Status:         refundStatus(r.Status),
			RawStatus:      r.Status,
			Amount:         amount,
		})
	}
	return details, nil
}

// HealthCheck requests a fresh OAuth token, which proves the credentials and
// the API are both usable.
func (a *Adapter) HealthCheck(ctx context.Context) domain.ProviderHealth {
	start := time.Now()
	err := a.call(ctx, func(ctx context.Context) error {
		_, err := a.tokens.fetch(ctx)
		return err
	})
	return domain.NewProviderHealth(a.Slug(), a.Name(), start, err)
}

func (a *Adapter) getOrder(ctx context.Context, id string, out *order) error {
	return a.send(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(id), "", nil, out)
}

// send performs one authenticated JSON call. requestID becomes the
// PayPal-Request-Id header, PayPal's idempotency key.
func (a *Adapter) send(ctx context.Context, method, path, requestID string, body, out interface{}) error {
	var token string
	if err := a.call(ctx, func(ctx context.Context) error {
		var err error
		token, err = a.tokens.Token(ctx)
		return err
	}); err != nil {
		return err
	}

	return a.call(ctx, func(ctx context.Context) error {
		apiErr := &apiError{}
		r := a.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetError(apiErr)
		if requestID != "" {
			r.SetHeader("PayPal-Request-Id", requestID)
		}
		if body != nil {
			r.SetHeader("Content-Type", "application/json").
				SetHeader("Prefer", "return=representation").
				SetBody(body)
		}
		if out != nil {
			r.SetResult(out)
		}

		resp, err := r.Execute(method, path)
		if err != nil {
			return transport.Classify(err)
		}
		if !resp.IsError() {
			return nil
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			a.tokens.Invalidate()
		}
		return withIssue(transport.StatusError(resp.StatusCode(), resp.String()), apiErr.issue())
	})
}

func (a *Adapter) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := a.timeouts.ProviderCallContext(ctx)
	defer cancel()
	return transport.Classify(a.breaker.Execute(callCtx, fn))
}

func withIssue(err error, issue string) error {
	var domainErr *domain.DomainError
	if issue == "" || !errors.As(err, &domainErr) {
		return err
	}
	return domainErr.WithDetail("issue", issue)
}

// issueOf extracts PayPal's machine-readable issue code from err
func issueOf(err error) string {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return ""
	}
	issue, _ := domainErr.Details["issue"].(string)
	return issue
}
