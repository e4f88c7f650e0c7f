package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundReason is the closed set of reasons a refund may be issued for.
type RefundReason string

const (
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
)

// Valid reports whether r is one of the allowed reasons.
func (r RefundReason) Valid() bool {
	switch r {
	case RefundReasonDuplicate, RefundReasonFraudulent, RefundReasonRequestedByCustomer:
		return true
	}
	return false
}

// RefundStatus is the normalized refund status.
type RefundStatus string

const (
	RefundStatusSucceeded      RefundStatus = "succeeded"
	RefundStatusPending        RefundStatus = "pending"
	RefundStatusFailed         RefundStatus = "failed"
	RefundStatusRequiresAction RefundStatus = "requires_action"
)

// Valid reports whether s belongs to the normalized vocabulary.
func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusSucceeded, RefundStatusPending, RefundStatusFailed, RefundStatusRequiresAction:
		return true
	}
	return false
}

// CountsAgainstBalance reports whether a refund in this status reduces the
// refundable balance.
func (s RefundStatus) CountsAgainstBalance() bool {
	return s == RefundStatusSucceeded || s == RefundStatusPending || s == RefundStatusRequiresAction
}

// RefundRequest asks for a full or partial refund of an approved transaction.
type RefundRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
	// Amount is nil for a refund of the whole remaining balance.
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Provider       string           `json:"provider" validate:"required"`
	TransactionID  string           `json:"transaction_id" validate:"required"`
	OrderID        string           `json:"order_id" validate:"required"`
	Currency       string           `json:"currency" validate:"required,len=3"`
	Reason         RefundReason     `json:"reason" validate:"required"`
	IdempotencyKey string           `json:"idempotency_key" validate:"required,max=255"`
	// ProviderReference is filled from the ledger before the adapter is called.
	ProviderReference string `json:"-"`
}

// RefundResponse is the provider-agnostic refund result.
type RefundResponse struct {
	RefundID       string          `json:"refund_id"`
	TransactionID  string          `json:"transaction_id"`
	Status         RefundStatus    `json:"status"`
	RawStatus      string          `json:"raw_status,omitempty"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
}

// RefundRecord is a refund already known to the provider or the ledger.
type RefundRecord struct {
	CreatedAt      time.Time
	RefundID       string
	IdempotencyKey string
	Status         RefundStatus
	RawStatus      string
	Amount         decimal.Decimal
}

// Response converts a stored record into a RefundResponse.
func (r *RefundRecord) Response(transactionID, currency string) *RefundResponse {
	return &RefundResponse{
		RefundID:       r.RefundID,
		TransactionID:  transactionID,
		Status:         r.Status,
		RawStatus:      r.RawStatus,
		Currency:       currency,
		IdempotencyKey: r.IdempotencyKey,
		Amount:         r.Amount,
	}
}
