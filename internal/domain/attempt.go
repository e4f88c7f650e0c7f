package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AttemptStatus is the ledger status of one checkout attempt.
type AttemptStatus string

const (
	AttemptInitiated        AttemptStatus = "initiated"
	AttemptChallengePending AttemptStatus = "challenge_pending"
	AttemptApproved         AttemptStatus = "approved"
	AttemptDeclined         AttemptStatus = "declined"
	AttemptFailed           AttemptStatus = "failed"
)

// AttemptStatusFor maps an initiate or confirm outcome onto the ledger status.
func AttemptStatusFor(kind OutcomeKind) AttemptStatus {
	switch kind {
	case OutcomeApproved:
		return AttemptApproved
	case OutcomeDeclined:
		return AttemptDeclined
	case OutcomePendingChallenge:
		return AttemptChallengePending
	case OutcomeFailed:
		return AttemptFailed
	default:
		return AttemptInitiated
	}
}

// PaymentAttempt is the ledger row for one TransactionIdentifier.
type PaymentAttempt struct {
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TransactionID     string
	OrderID           string
	Provider          string
	ProviderReference string
	Currency          string
	GuestTokenID      string
	AccountID         string
	ReasonCode        string
	Status            AttemptStatus
	Branch            ConfirmationBranch
	Amount            decimal.Decimal
	RefundedAmount    decimal.Decimal
}

// IsTerminal reports whether the attempt can no longer change status.
func (a *PaymentAttempt) IsTerminal() bool {
	return a.Status == AttemptApproved || a.Status == AttemptDeclined || a.Status == AttemptFailed
}

// CanRefund checks amount against the ledger's view of the remaining balance.
func (a *PaymentAttempt) CanRefund(amount decimal.Decimal) error {
	if a.Status != AttemptApproved {
		return ErrNotYetCaptured
	}
	remaining := a.Amount.Sub(a.RefundedAmount)
	if !remaining.IsPositive() {
		return ErrAlreadyRefunded
	}
	if amount.GreaterThan(remaining) {
		return ErrRefundExceedsRemaining.Withf("refund of %s exceeds remaining %s", amount.String(), remaining.String())
	}
	return nil
}
