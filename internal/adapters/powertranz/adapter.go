// Package powertranz implements the SPI (3-D Secure) flow of the PowerTranz
// acquiring gateway: an Auth call that may ask for a challenge, followed by a
// Confirm call that redeems the short-lived SpiToken.
package powertranz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
	"github.com/kevin07696/esim-checkout/internal/adapters/transport"
	"github.com/kevin07696/esim-checkout/internal/domain"
	domainports "github.com/kevin07696/esim-checkout/internal/domain/ports"
	pkghttp "github.com/kevin07696/esim-checkout/pkg/http"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const (
	defaultChallengeWindow     = 5 * time.Minute
	defaultChallengeWindowSize = 4
	// challengeIndicator "01" leaves the challenge decision to the issuer.
	challengeIndicator = "01"
)

// Config holds the merchant credentials and endpoints for PowerTranz
type Config struct {
	BaseURL             string
	PowerTranzID        string
	Password            string
	MerchantResponseURL string
	ChallengeWindow     time.Duration
	ChallengeWindowSize int
}

// Adapter talks to the PowerTranz SPI API
type Adapter struct {
	httpClient ports.HTTPClient
	breaker    *resilience.CircuitBreaker
	timeouts   *resilience.TimeoutConfig
	logger     *zap.Logger
	now        func() time.Time
	config     Config
}

var _ domainports.StepUpAdapter = (*Adapter)(nil)

// NewAdapter creates a PowerTranz adapter. A nil httpClient gets the tuned
// provider client from pkg/http.
func NewAdapter(cfg Config, httpClient ports.HTTPClient, timeouts *resilience.TimeoutConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.PowerTranzID == "" || cfg.Password == "" {
		return nil, domain.ErrMissingCredentials.Withf("powertranz merchant id and password are required")
	}
	if cfg.BaseURL == "" {
		return nil, domain.ErrMissingCredentials.Withf("powertranz base url is required")
	}
	if cfg.ChallengeWindow <= 0 {
		cfg.ChallengeWindow = defaultChallengeWindow
	}
	if cfg.ChallengeWindowSize <= 0 {
		cfg.ChallengeWindowSize = defaultChallengeWindowSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if httpClient == nil {
		httpClient = pkghttp.NewHTTPClient(pkghttp.ProviderClientConfig(), timeouts.ProviderCall)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		config:     cfg,
		httpClient: httpClient,
		breaker:    transport.NewBreaker(domain.ProviderPowerTranz, logger),
		timeouts:   timeouts,
		logger:     logger.With(zap.String("provider", domain.ProviderPowerTranz)),
		now:        time.Now,
	}, nil
}

// Slug implements ProviderAdapter
func (a *Adapter) Slug() string { return domain.ProviderPowerTranz }

// Name implements ProviderAdapter
func (a *Adapter) Name() string { return "PowerTranz" }

// ChallengeWindow is how long a SpiToken may be confirmed after Auth
func (a *Adapter) ChallengeWindow() time.Duration { return a.config.ChallengeWindow }

type cardSource struct {
	CardPan        string `json:"CardPan"`
	CardCvv        string `json:"CardCvv"`
	CardExpiration string `json:"CardExpiration"`
	CardholderName string `json:"CardholderName"`
}

type billingAddress struct {
	FirstName    string `json:"FirstName,omitempty"`
	LastName     string `json:"LastName,omitempty"`
	EmailAddress string `json:"EmailAddress,omitempty"`
}

type threeDSecure struct {
	ChallengeWindowSize int    `json:"ChallengeWindowSize"`
	ChallengeIndicator  string `json:"ChallengeIndicator"`
}

type extendedData struct {
	ThreeDSecure        threeDSecure `json:"ThreeDSecure"`
	MerchantResponseURL string       `json:"MerchantResponseUrl"`
}

type saleRequest struct {
	BillingAddress        *billingAddress `json:"BillingAddress,omitempty"`
	TransactionIdentifier string          `json:"TransactionIdentifier"`
	TotalAmount           json.Number     `json:"TotalAmount"`
	CurrencyCode          string          `json:"CurrencyCode"`
	OrderIdentifier       string          `json:"OrderIdentifier"`
	Source                cardSource      `json:"Source"`
	ExtendedData          extendedData    `json:"ExtendedData"`
	ThreeDSecure          bool            `json:"ThreeDSecure"`
	AddressMatch          bool            `json:"AddressMatch"`
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// spiResponse is the body returned by Auth, Confirm and Refund
type spiResponse struct {
	Errors                []apiError      `json:"Errors"`
	TransactionIdentifier string          `json:"TransactionIdentifier"`
	CurrencyCode          string          `json:"CurrencyCode"`
	IsoResponseCode       string          `json:"IsoResponseCode"`
	ResponseMessage       string          `json:"ResponseMessage"`
	SpiToken              string          `json:"SpiToken"`
	RedirectData          string          `json:"RedirectData"`
	OrderIdentifier       string          `json:"OrderIdentifier"`
	RRN                   string          `json:"RRN"`
	TotalAmount           decimal.Decimal `json:"TotalAmount"`
	Approved              bool            `json:"Approved"`
}

// responseCode returns the ISO code, falling back to the first API error
func (r *spiResponse) responseCode() string {
	if r.IsoResponseCode != "" {
		return r.IsoResponseCode
	}
	if len(r.Errors) > 0 {
		return r.Errors[0].Code
	}
	return ""
}

func (r *spiResponse) message() string {
	if r.ResponseMessage != "" {
		return r.ResponseMessage
	}
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

type refundRequest struct {
	TransactionIdentifier string      `json:"TransactionIdentifier"`
	TotalAmount           json.Number `json:"TotalAmount"`
	CurrencyCode          string      `json:"CurrencyCode"`
	ExternalIdentifier    string      `json:"ExternalIdentifier"`
	Refund                bool        `json:"Refund"`
}

type refundEntry struct {
	CreatedDate        time.Time       `json:"CreatedDate"`
	RefundIdentifier   string          `json:"RefundIdentifier"`
	ExternalIdentifier string          `json:"ExternalIdentifier"`
	TotalAmount        decimal.Decimal `json:"TotalAmount"`
	Approved           bool            `json:"Approved"`
}

type transactionResponse struct {
	Refunds               []refundEntry   `json:"Refunds"`
	TransactionIdentifier string          `json:"TransactionIdentifier"`
	IsoResponseCode       string          `json:"IsoResponseCode"`
	CurrencyCode          string          `json:"CurrencyCode"`
	TotalAmount           decimal.Decimal `json:"TotalAmount"`
	RefundedAmount        decimal.Decimal `json:"RefundedAmount"`
	Approved              bool            `json:"Approved"`
}

// Initiate performs the SPI Auth phase. SP4 yields a pending challenge with
// the SpiToken; 00 is an approval without step-up; every other code declines.
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
	if err := a.validateCard(req.Card); err != nil {
		return nil, err
	}

	apiReq := saleRequest{
		TransactionIdentifier: req.TransactionID,
		TotalAmount:           json.Number(cur.Format(req.Amount)),
		CurrencyCode:          cur.Numeric,
		ThreeDSecure:          true,
		OrderIdentifier:       req.OrderID,
		Source: cardSource{
			CardPan:        req.Card.Number,
			CardCvv:        req.Card.CVV,
			CardExpiration: fmt.Sprintf("%02d%02d", req.Card.ExpiryYear%100, req.Card.ExpiryMonth),
			CardholderName: req.Card.CardholderName,
		},
		ExtendedData: extendedData{
			ThreeDSecure: threeDSecure{
				ChallengeWindowSize: a.config.ChallengeWindowSize,
				ChallengeIndicator:  challengeIndicator,
			},
			MerchantResponseURL: a.responseURL(req),
		},
	}
	if req.Customer != nil && (req.Customer.Email != "" || req.Customer.Name != "") {
		first, last, _ := strings.Cut(req.Customer.Name, " ")
		apiReq.BillingAddress = &billingAddress{FirstName: first, LastName: last, EmailAddress: req.Customer.Email}
	}

	a.logger.Info("Sending SPI auth",
		zap.String("transaction_id", req.TransactionID),
		zap.String("order_id", req.OrderID),
		zap.String("card_last4", req.Card.Last4()),
	)

	var resp spiResponse
	if err := a.do(ctx, http.MethodPost, "/api/spi/sale", apiReq, &resp); err != nil {
		a.logger.Warn("SPI auth failed", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return nil, err
	}

	code := resp.responseCode()
	switch {
	case IsChallengeCode(code):
		if resp.SpiToken == "" {
			return nil, domain.ErrInvalidProviderReply.Withf("challenge response carried no SpiToken")
		}
		now := a.now()
		session := &domain.ChallengeSession{
			Token:           resp.SpiToken,
			TransactionID:   req.TransactionID,
			Provider:        domain.ProviderPowerTranz,
			OrderID:         req.OrderID,
			Amount:          req.Amount,
			Currency:        cur.Code,
			RedirectContent: resp.RedirectData,
			State:           domain.ChallengeInitiated,
			CreatedAt:       now,
			ExpiresAt:       now.Add(a.config.ChallengeWindow),
		}
		if err := session.Transition(domain.ChallengePending); err != nil {
			return nil, err
		}
		return &domain.GatewayOutcome{
			Kind:              domain.OutcomePendingChallenge,
			TransactionID:     req.TransactionID,
			ProviderReference: req.TransactionID,
			Amount:            req.Amount,
			Currency:          cur.Code,
			Challenge:         session,
		}, nil

	case resp.Approved && IsApprovalCode(code):
		return domain.Approved(req.TransactionID, req.TransactionID, req.Amount, cur.Code), nil

	default:
		info := GetResponseCode(code)
		a.logger.Info("SPI auth declined",
			zap.String("transaction_id", req.TransactionID),
			zap.String("iso_code", code),
			zap.String("display", info.Display),
		)
		return domain.Declined(req.TransactionID, code, info.Category, resp.message()), nil
	}
}

// Confirm redeems the SpiToken after the payer returns from the challenge.
func (a *Adapter) Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.GatewayOutcome, error) {
	token := strings.TrimSpace(req.ChallengeToken)
	if token == "" {
		return nil, domain.ErrValidationFailed.Withf("challenge token is required")
	}

	var resp spiResponse
	if err := a.do(ctx, http.MethodPost, "/api/spi/payment", token, &resp); err != nil {
		a.logger.Warn("SPI payment failed", zap.String("transaction_id", req.TransactionID), zap.Error(err))
		return nil, err
	}

	txID := resp.TransactionIdentifier
	if txID == "" {
		txID = req.TransactionID
	}
	code := resp.responseCode()
	if resp.Approved && IsApprovalCode(code) {
		currency := ""
		if cur, err := domain.LookupCurrencyByNumeric(resp.CurrencyCode); err == nil {
			currency = cur.Code
		}
		return domain.Approved(txID, txID, resp.TotalAmount, currency), nil
	}

	info := GetResponseCode(code)
	a.logger.Info("SPI payment declined",
		zap.String("transaction_id", txID),
		zap.String("iso_code", code),
		zap.String("display", info.Display),
	)
	return domain.Declined(txID, code, info.Category, resp.message()), nil
}

// Refund issues a full or partial refund. ExternalIdentifier carries the
// idempotency key so Lookup can find the refund again.
func (a *Adapter) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	if req.Amount == nil {
		return nil, domain.ErrInvalidAmount.Withf("refund amount must be resolved before calling the provider")
	}
	cur, err := domain.LookupCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if _, err := cur.ToMinorUnits(*req.Amount); err != nil {
		return nil, err
	}
	reference := req.ProviderReference
	if reference == "" {
		reference = req.TransactionID
	}

	apiReq := refundRequest{
		Refund:                true,
		TransactionIdentifier: reference,
		TotalAmount:           json.Number(cur.Format(*req.Amount)),
		CurrencyCode:          cur.Numeric,
		ExternalIdentifier:    req.IdempotencyKey,
	}

	var resp spiResponse
	if err := a.do(ctx, http.MethodPost, "/api/refund", apiReq, &resp); err != nil {
		return nil, err
	}

	refundID := resp.RRN
	if refundID == "" {
		refundID = req.IdempotencyKey
	}
	rawStatus := resp.responseCode()
	status := domain.RefundStatusFailed
	if resp.Approved {
		status = domain.RefundStatusSucceeded
	}

	return &domain.RefundResponse{
		RefundID:       refundID,
		TransactionID:  req.TransactionID,
		Status:         status,
		RawStatus:      rawStatus,
		Amount:         *req.Amount,
		Currency:       cur.Code,
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

// Lookup reads a transaction by its TransactionIdentifier
func (a *Adapter) Lookup(ctx context.Context, reference string) (*domain.TransactionDetails, error) {
	if reference == "" {
		return nil, domain.ErrValidationFailed.Withf("transaction reference is required")
	}

	var resp transactionResponse
	if err := a.do(ctx, http.MethodGet, "/api/transactions/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}

	details := &domain.TransactionDetails{
		Reference:      reference,
		Amount:         resp.TotalAmount,
		RefundedAmount: resp.RefundedAmount,
	}
	if cur, err := domain.LookupCurrencyByNumeric(resp.CurrencyCode); err == nil {
		details.Currency = cur.Code
	}

	switch {
	case resp.Approved:
		details.Status = domain.PaymentStatusApproved
		details.CapturedAmount = resp.TotalAmount
	case IsChallengeCode(resp.IsoResponseCode):
		details.Status = domain.PaymentStatusPending
	case resp.IsoResponseCode == "":
		details.Status = domain.PaymentStatusUnknown
	default:
		details.Status = domain.PaymentStatusDeclined
	}

	for _, r := range resp.Refunds {
		status := domain.RefundStatusFailed
		if r.Approved {
			status = domain.RefundStatusSucceeded
		}
		id := r.RefundIdentifier
		if id == "" {
			id = r.ExternalIdentifier
		}
		details.Refunds = append(details.Refunds, domain.RefundRecord{
			RefundID:       id,
			IdempotencyKey: r.ExternalIdentifier,
			Status:         status,
			Amount:         r.TotalAmount,
			CreatedAt:      r.CreatedDate,
		})
	}
	return details, nil
}

// HealthCheck calls the side-effect free alive endpoint
func (a *Adapter) HealthCheck(ctx context.Context) domain.ProviderHealth {
	start := time.Now()
	err := a.do(ctx, http.MethodGet, "/api/alive", nil, nil)
	return domain.NewProviderHealth(a.Slug(), a.Name(), start, err)
}

// responseURL is where the ACS posts the payer back after the challenge
func (a *Adapter) responseURL(req *domain.PaymentIntentRequest) string {
	if req.ReturnURL != "" {
		return req.ReturnURL
	}
	return a.config.MerchantResponseURL
}

func (a *Adapter) validateCard(card *domain.CardInstrument) error {
	if card == nil {
		return domain.ErrInvalidInstrument.Withf("card details are required")
	}
	if err := domain.ValidateStruct(card); err != nil {
		return domain.ErrInvalidInstrument.Wrap(err)
	}
	now := a.now()
	if card.ExpiryYear*12+card.ExpiryMonth < now.Year()*12+int(now.Month()) {
		return domain.ErrInvalidInstrument.Withf("card has expired")
	}
	return nil
}

// do runs one request under the per-call timeout and the circuit breaker
func (a *Adapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	callCtx, cancel := a.timeouts.ProviderCallContext(ctx)
	defer cancel()

	err := a.breaker.Execute(callCtx, func(ctx context.Context) error {
		return a.roundTrip(ctx, method, path, body, out)
	})
	return transport.Classify(err)
}

func (a *Adapter) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.ErrInternalError.Wrap(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return domain.ErrInternalError.Wrap(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	httpReq.Header.Set("PowerTranz-PowerTranzId", a.config.PowerTranzID)
	httpReq.Header.Set("PowerTranz-PowerTranzPassword", a.config.Password)

	a.logger.Debug("PowerTranz request", zap.String("method", method), zap.String("path", path))

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return transport.Classify(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return transport.Classify(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return transport.StatusError(httpResp.StatusCode, string(respBody))
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.ErrInvalidProviderReply.Wrap(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}
