// Package payment exposes checkout, provider returns, order payment status
// and refunds over HTTP on a grpc-gateway ServeMux.
package payment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/auth"
	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/services/checkout"
	"github.com/kevin07696/esim-checkout/internal/services/confirmation"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const maxBodyBytes = 64 << 10

// CheckoutService starts attempts and reports order status
type CheckoutService interface {
	Initiate(ctx context.Context, cmd checkout.InitiateCommand) (*checkout.InitiateResult, error)
	Status(ctx context.Context, orderID string) (*checkout.PaymentStatus, error)
}

// Confirmer turns provider returns into outcomes
type Confirmer interface {
	Confirm(ctx context.Context, cmd confirmation.ConfirmCommand) (*confirmation.ConfirmResult, error)
}

// Refunder issues refunds
type Refunder interface {
	Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error)
}

// Config holds the handler's URLs and the refund credential
type Config struct {
	// ProcessingURL is the provider-agnostic page that polls payment status.
	ProcessingURL string
	// AdminKey authorizes refunds via the X-Admin-Key header. Empty disables refunds.
	AdminKey string
}

// Handler serves the public payment API
type Handler struct {
	checkout  CheckoutService
	confirmer Confirmer
	refunder  Refunder
	timeouts  *resilience.TimeoutConfig
	logger    *zap.Logger
	cfg       Config
}

// NewHandler creates a payment handler
func NewHandler(checkout CheckoutService, confirmer Confirmer, refunder Refunder, timeouts *resilience.TimeoutConfig, cfg Config, logger *zap.Logger) *Handler {
	return &Handler{
		checkout:  checkout,
		confirmer: confirmer,
		refunder:  refunder,
		timeouts:  timeouts,
		logger:    logger,
		cfg:       cfg,
	}
}

// Register mounts every route on mux
func (h *Handler) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern string
		fn              runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/v1/checkout/initiate", h.Initiate},
		{http.MethodPost, "/api/v1/checkout/{provider}/initiate", h.Initiate},
		{http.MethodGet, "/api/v1/payments/{provider}/callback", h.Callback},
		{http.MethodPost, "/api/v1/payments/{provider}/callback", h.Callback},
		{http.MethodPost, "/api/v1/payments/{provider}/confirm", h.Confirm},
		{http.MethodGet, "/api/v1/orders/{order_id}/payment-status", h.Status},
		{http.MethodPost, "/api/v1/refunds", h.Refund},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.fn); err != nil {
			return err
		}
	}
	return nil
}

// initiateResponse mirrors the generic initiate contract
type initiateResponse struct {
	GuestTokenExpiresAt *time.Time `json:"guestTokenExpiresAt,omitempty"`
	Status              string     `json:"status"`
	Provider            string     `json:"provider"`
	OrderID             string     `json:"orderId"`
	TransactionID       string     `json:"transactionId"`
	RedirectContent     string     `json:"redirectContent,omitempty"`
	ChallengeToken      string     `json:"challengeToken,omitempty"`
	ReasonCode          string     `json:"reasonCode,omitempty"`
	ReasonMessage       string     `json:"reasonMessage,omitempty"`
	ReturnURL           string     `json:"returnUrl,omitempty"`
	RedirectURL         string     `json:"redirectUrl,omitempty"`
	GuestToken          string     `json:"guestToken,omitempty"`
	Approved            bool       `json:"approved"`
	ChallengeRequired   bool       `json:"challengeRequired"`
}

// Initiate handles POST /api/v1/checkout[/{provider}]/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	var req domain.PaymentIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.checkout.Initiate(ctx, checkout.InitiateCommand{
		Request:   req,
		Provider:  params["provider"],
		AccountID: auth.AccountID(ctx),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	o := result.Outcome
	resp := initiateResponse{
		Status:            string(o.Kind),
		Provider:          result.Provider,
		OrderID:           result.OrderID,
		TransactionID:     result.TransactionID,
		Approved:          o.Kind == domain.OutcomeApproved,
		ChallengeRequired: o.ChallengeRequired(),
		ReturnURL:         result.ReturnURL,
		RedirectURL:       result.RedirectURL,
	}
	if resp.ChallengeRequired {
		resp.RedirectContent = o.RedirectContent()
		resp.ChallengeToken = o.ChallengeToken()
	}
	if !resp.Approved && !resp.ChallengeRequired {
		resp.ReasonCode = o.ReasonCode
		resp.ReasonMessage = o.ReasonMessage
	}
	if result.Guest != nil {
		resp.GuestToken = result.Guest.Token
		expires := result.Guest.ExpiresAt
		resp.GuestTokenExpiresAt = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}

// confirmResponse is the machine-checkable answer to a provider return
type confirmResponse struct {
	Status        string `json:"status,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	Success       bool   `json:"success"`
}

// Callback handles the browser's return from a provider. It always answers
// 303 to the processing page, which polls for the final status.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	provider := strings.ToLower(params["provider"])
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Unreadable provider return", zap.String("provider", provider), zap.Error(err))
	}
	req := confirmRequestFromForm(provider, r.Form)

	h.logger.Info("Provider return received",
		zap.String("provider", provider),
		zap.String("method", r.Method),
		zap.Bool("guest", r.Form.Get("guest_token") != ""),
	)

	result, err := h.confirmer.Confirm(ctx, confirmation.ConfirmCommand{
		Request:    req,
		GuestToken: r.Form.Get("guest_token"),
		AccountID:  auth.AccountID(ctx),
	})

	var body confirmResponse
	if err != nil {
		h.logFailure("Provider return failed", provider, err)
		body = confirmResponse{
			Code:    string(domain.GetErrorCode(err)),
			Message: domain.UserMessage(err),
		}
	} else {
		body = confirmBody(result)
	}

	location := h.processingURL(provider, body)
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusSeeOther, body)
}

// Confirm handles POST /api/v1/payments/{provider}/confirm with a JSON body
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	var in struct {
		domain.ConfirmRequest
		GuestToken string `json:"guest_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	in.Provider = params["provider"]

	result, err := h.confirmer.Confirm(ctx, confirmation.ConfirmCommand{
		Request:    in.ConfirmRequest,
		GuestToken: in.GuestToken,
		AccountID:  auth.AccountID(ctx),
	})
	if err != nil {
		h.logFailure("Confirm failed", in.Provider, err)
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmBody(result))
}

// Status handles GET /api/v1/orders/{order_id}/payment-status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	status, err := h.checkout.Status(ctx, params["order_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, status)
}

// Refund handles POST /api/v1/refunds
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !h.adminAuthorized(r) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "FORBIDDEN", Message: "refunds require an admin key"})
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	var req domain.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.refunder.Refund(ctx, &req)
	if err != nil {
		h.logFailure("Refund request failed", req.Provider, err)
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) adminAuthorized(r *http.Request) bool {
	if h.cfg.AdminKey == "" {
		return false
	}
	key := r.Header.Get("X-Admin-Key")
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.AdminKey)) == 1
}

func (h *Handler) processingURL(provider string, body confirmResponse) string {
	u, err := url.Parse(h.cfg.ProcessingURL)
	if err != nil {
		return h.cfg.ProcessingURL
	}
	q := u.Query()
	q.Set("provider", provider)
	if body.OrderID != "" {
		q.Set("order_id", body.OrderID)
	}
	if body.Success {
		q.Set("result", "success")
	} else {
		q.Set("result", "failed")
	}
	if body.RedirectURL != "" {
		q.Set("next", body.RedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) logFailure(msg, provider string, err error) {
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.String("code", string(domain.GetErrorCode(err))),
		zap.Error(err),
	}
	if domain.KindOf(err) == domain.KindInternal || domain.KindOf(err) == domain.KindConfiguration {
		h.logger.Error(msg, fields...)
		return
	}
	h.logger.Warn(msg, fields...)
}

func confirmBody(result *confirmation.ConfirmResult) confirmResponse {
	body := confirmResponse{
		OrderID:       result.OrderID,
		TransactionID: result.TransactionID,
		Message:       result.Message,
		RedirectURL:   result.RedirectURL,
		Success:       result.Success,
	}
	if result.Outcome != nil {
		body.Status = string(result.Outcome.Kind)
		if !result.Success {
			body.Code = result.Outcome.ReasonCode
		}
	}
	return body
}

// powerTranzResponse is the part of PowerTranz's posted Response JSON the
// confirm leg needs
type powerTranzResponse struct {
	SpiToken              string `json:"SpiToken"`
	TransactionIdentifier string `json:"TransactionIdentifier"`
}

// confirmRequestFromForm maps each provider's return parameters onto a
// ConfirmRequest. The provider tag comes from the path, never the payload.
func confirmRequestFromForm(provider string, form url.Values) domain.ConfirmRequest {
	req := domain.ConfirmRequest{
		Provider:        provider,
		PaymentIntentID: form.Get("payment_intent"),
		OrderID:         form.Get("order_id"),
		PaymentID:       form.Get("payment_id"),
		Signature:       form.Get("signature"),
		ChallengeToken:  form.Get("challenge_token"),
		TransactionID:   form.Get("transaction_id"),
	}

	switch provider {
	case domain.ProviderPayPal:
		// PayPal appends its order id as token, next to PayerID
		if token := form.Get("token"); token != "" {
			req.OrderID = token
		}
	case domain.ProviderRazorpay:
		req.OrderID = firstNonEmpty(form.Get("razorpay_order_id"), req.OrderID)
		req.PaymentID = firstNonEmpty(form.Get("razorpay_payment_id"), req.PaymentID)
		req.Signature = firstNonEmpty(form.Get("razorpay_signature"), req.Signature)
	case domain.ProviderPowerTranz:
		if raw := form.Get("Response"); raw != "" {
			var pt powerTranzResponse
			if err := json.Unmarshal([]byte(raw), &pt); err == nil {
				req.ChallengeToken = firstNonEmpty(pt.SpiToken, req.ChallengeToken)
				req.TransactionID = firstNonEmpty(pt.TransactionIdentifier, req.TransactionID)
			}
		}
		req.ChallengeToken = firstNonEmpty(req.ChallengeToken, form.Get("SpiToken"), form.Get("spi_token"))
	}
	return req
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
