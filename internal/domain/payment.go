package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider slugs
const (
	ProviderStripe     = "stripe"
	ProviderPayPal     = "paypal"
	ProviderRazorpay   = "razorpay"
	ProviderPowerTranz = "powertranz"
)

// Customer is the optional payer contact attached to a checkout.
type Customer struct {
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Name  string `json:"name,omitempty" validate:"omitempty,max=120"`
}

// CardInstrument carries PAN data for providers that authenticate the card
// server-side. It never leaves the adapter boundary and is never logged.
type CardInstrument struct {
	Number         string `json:"number" validate:"required,numeric,min=12,max=19"`
	CVV            string `json:"cvv" validate:"required,numeric,min=3,max=4"`
	ExpiryMonth    int    `json:"expiry_month" validate:"required,min=1,max=12"`
	ExpiryYear     int    `json:"expiry_year" validate:"required,min=2000,max=2099"`
	CardholderName string `json:"cardholder_name" validate:"required,max=45"`
}

// Last4 returns the last four digits of the PAN for logging.
func (c *CardInstrument) Last4() string {
	if c == nil || len(c.Number) < 4 {
		return ""
	}
	return c.Number[len(c.Number)-4:]
}

// PaymentIntentRequest is the provider-agnostic initiate request.
type PaymentIntentRequest struct {
	Metadata      map[string]string `json:"metadata,omitempty"`
	Customer      *Customer         `json:"customer,omitempty" validate:"omitempty"`
	Card          *CardInstrument   `json:"card,omitempty" validate:"omitempty"`
	TransactionID string            `json:"transaction_id" validate:"required"`
	OrderID       string            `json:"order_id" validate:"required,max=64"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	ReturnURL     string            `json:"return_url,omitempty" validate:"omitempty,url"`
	CancelURL     string            `json:"cancel_url,omitempty" validate:"omitempty,url"`
	Amount        decimal.Decimal   `json:"amount"`
}

// NewTransactionID mints a TransactionIdentifier. Every attempt, including a
// retry of a failed attempt, gets a fresh one.
func NewTransactionID() string {
	return uuid.NewString()
}

// ConfirmRequest carries the provider-specific correlation artifact a payer
// returns with after completing checkout.
type ConfirmRequest struct {
	Provider        string `json:"provider"`
	PaymentIntentID string `json:"payment_intent,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	PaymentID       string `json:"payment_id,omitempty"`
	Signature       string `json:"signature,omitempty"`
	ChallengeToken  string `json:"challenge_token,omitempty"`
	TransactionID   string `json:"transaction_id,omitempty"`
}

// LookupReference returns the identifier a read-only status lookup should use.
func (r *ConfirmRequest) LookupReference() string {
	for _, ref := range []string{r.PaymentIntentID, r.PaymentID, r.TransactionID, r.OrderID} {
		if strings.TrimSpace(ref) != "" {
			return ref
		}
	}
	return ""
}

// PaymentStatus is the normalized status returned by provider lookups.
type PaymentStatus string

const (
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusDeclined PaymentStatus = "declined"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusUnknown  PaymentStatus = "unknown"
)

// TransactionDetails is what an adapter reports about an existing transaction.
type TransactionDetails struct {
	Reference      string
	Status         PaymentStatus
	Currency       string
	Amount         decimal.Decimal
	CapturedAmount decimal.Decimal
	RefundedAmount decimal.Decimal
	Refunds        []RefundRecord
}

// RemainingRefundable returns captured minus refunded, never below zero.
func (t *TransactionDetails) RemainingRefundable() decimal.Decimal {
	remaining := t.CapturedAmount.Sub(t.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// FindRefund returns the prior refund issued under idempotencyKey, if any.
func (t *TransactionDetails) FindRefund(idempotencyKey string) *RefundRecord {
	if idempotencyKey == "" {
		return nil
	}
	for i := range t.Refunds {
		if t.Refunds[i].IdempotencyKey == idempotencyKey {
			return &t.Refunds[i]
		}
	}
	return nil
}
