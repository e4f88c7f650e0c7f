package paypal

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

// PayPal order and capture statuses used by the adapter
const (
	orderCompleted = "COMPLETED"
	orderVoided    = "VOIDED"

	captureCompleted         = "COMPLETED"
	capturePending           = "PENDING"
	captureDeclined          = "DECLINED"
	captureFailed            = "FAILED"
	capturePartiallyRefunded = "PARTIALLY_REFUNDED"
	captureRefunded          = "REFUNDED"

	issueAlreadyCaptured   = "ORDER_ALREADY_CAPTURED"
	issueInstrumentDecline = "INSTRUMENT_DECLINED"
	issueNotApproved       = "ORDER_NOT_APPROVED"
	issuePayerCannotPay    = "PAYER_CANNOT_PAY"
)

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type experienceContext struct {
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	UserAction         string `json:"user_action"`
	ShippingPreference string `json:"shipping_preference"`
}

type paymentSource struct {
	PayPal struct {
		ExperienceContext experienceContext `json:"experience_context"`
		EmailAddress      string            `json:"email_address,omitempty"`
	} `json:"paypal"`
}

type purchaseUnitRequest struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	InvoiceID   string `json:"invoice_id"`
	Description string `json:"description,omitempty"`
	Amount      money  `json:"amount"`
}

type createOrderRequest struct {
	PaymentSource *paymentSource        `json:"payment_source,omitempty"`
	Intent        string                `json:"intent"`
	PurchaseUnits []purchaseUnitRequest `json:"purchase_units"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
}

type refund struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	InvoiceID string `json:"invoice_id"`
	Amount    money  `json:"amount"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Amount      money  `json:"amount"`
	Payments    struct {
		Captures []capture `json:"captures"`
		Refunds  []refund  `json:"refunds"`
	} `json:"payments"`
}

type order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []link         `json:"links"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

// approvalURL returns the link the payer must visit to approve the order
func (o *order) approvalURL() string {
	for _, l := range o.Links {
		if l.Rel == "payer-action" || l.Rel == "approve" {
			return l.Href
		}
	}
	return ""
}

func (o *order) unit() *purchaseUnit {
	if len(o.PurchaseUnits) == 0 {
		return nil
	}
	return &o.PurchaseUnits[0]
}

// capture returns the capture that represents the payment, preferring a
// settled one.
func (o *order) capture() *capture {
	u := o.unit()
	if u == nil {
		return nil
	}
	var fallback *capture
	for i := range u.Payments.Captures {
		c := &u.Payments.Captures[i]
		switch c.Status {
		case captureCompleted, capturePartiallyRefunded, captureRefunded:
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

// totals sums settled captures and refunds that reduce the balance
func (o *order) totals(cur domain.Currency) (captured, refunded decimal.Decimal, err error) {
	u := o.unit()
	if u == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	for _, c := range u.Payments.Captures {
		switch c.Status {
		case captureCompleted, capturePartiallyRefunded, captureRefunded:
			v, err := cur.ParseAmount(c.Amount.Value)
			if err != nil {
				return decimal.Zero, decimal.Zero, err
			}
			captured = captured.Add(v)
		}
	}
	for _, r := range u.Payments.Refunds {
		if !refundStatus(r.Status).CountsAgainstBalance() {
			continue
		}
		v, err := cur.ParseAmount(r.Amount.Value)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		refunded = refunded.Add(v)
	}
	return captured, refunded, nil
}

type refundRequest struct {
	Amount      money  `json:"amount"`
	InvoiceID   string `json:"invoice_id"`
	NoteToPayer string `json:"note_to_payer,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

type apiError struct {
	Name    string        `json:"name"`
	Message string        `json:"message"`
	DebugID string        `json:"debug_id"`
	Details []errorDetail `json:"details"`
}

func (e *apiError) issue() string {
	if e == nil || len(e.Details) == 0 {
		return ""
	}
	return e.Details[0].Issue
}

func refundStatus(s string) domain.RefundStatus {
	switch strings.ToUpper(s) {
	case "COMPLETED":
		return domain.RefundStatusSucceeded
	case "PENDING":
		return domain.RefundStatusPending
	default:
		// FAILED, CANCELLED
		return domain.RefundStatusFailed
	}
}
