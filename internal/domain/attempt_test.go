package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func approvedAttempt(amount, refunded string) *PaymentAttempt {
	return &PaymentAttempt{
		TransactionID:  "txn_1",
		Status:         AttemptApproved,
		Amount:         decimal.RequireFromString(amount),
		RefundedAmount: decimal.RequireFromString(refunded),
	}
}

// TestPaymentAttempt_CanRefund tests refund balance checks
func TestPaymentAttempt_CanRefund(t *testing.T) {
	tests := []struct {
		name     string
		attempt  *PaymentAttempt
		amount   string
		expected error
	}{
		{"full_refund", approvedAttempt("10.00", "0"), "10.00", nil},
		{"partial_refund", approvedAttempt("10.00", "4.00"), "6.00", nil},
		{"exceeds_remaining", approvedAttempt("10.00", "4.00"), "6.01", ErrRefundExceedsRemaining},
		{"already_refunded", approvedAttempt("10.00", "10.00"), "10.00", ErrAlreadyRefunded},
		{"not_captured", &PaymentAttempt{Status: AttemptChallengePending, Amount: decimal.RequireFromString("10")}, "1", ErrNotYetCaptured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.attempt.CanRefund(decimal.RequireFromString(tt.amount))
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expected)
			assert.False(t, IsRetryable(err))
		})
	}
}

// TestTransactionDetails_RemainingRefundable tests the captured minus refunded rule
func TestTransactionDetails_RemainingRefundable(t *testing.T) {
	d := &TransactionDetails{
		CapturedAmount: decimal.RequireFromString("25.00"),
		RefundedAmount: decimal.RequireFromString("30.00"),
	}

	assert.True(t, d.RemainingRefundable().IsZero())
}

// TestConfirmRequest_LookupReference tests reference priority
func TestConfirmRequest_LookupReference(t *testing.T) {
	assert.Equal(t, "pi_1", (&ConfirmRequest{PaymentIntentID: "pi_1", TransactionID: "t"}).LookupReference())
	assert.Equal(t, "pay_1", (&ConfirmRequest{OrderID: "order_1", PaymentID: "pay_1"}).LookupReference())
	assert.Equal(t, "order_1", (&ConfirmRequest{OrderID: "order_1"}).LookupReference())
	assert.Empty(t, (&ConfirmRequest{}).LookupReference())
}

// TestRefundRequest_Validate tests reason and amount validation
func TestRefundRequest_Validate(t *testing.T) {
	amount := decimal.RequireFromString("5.00")
	req := &RefundRequest{
		Provider:       ProviderStripe,
		TransactionID:  "pi_1",
		OrderID:        "ord_1",
		Currency:       "USD",
		Reason:         RefundReasonRequestedByCustomer,
		IdempotencyKey: "ord_1",
		Amount:         &amount,
	}
	assert.NoError(t, req.Validate())

	req.Reason = "changed_mind"
	assert.ErrorIs(t, req.Validate(), ErrInvalidRefundReason)

	req.Reason = RefundReasonDuplicate
	req.IdempotencyKey = ""
	assert.True(t, IsValidationError(req.Validate()))
}

// TestPaymentIntentRequest_Validate tests local rejection before dispatch
func TestPaymentIntentRequest_Validate(t *testing.T) {
	req := &PaymentIntentRequest{
		TransactionID: NewTransactionID(),
		OrderID:       "ord_1",
		Amount:        decimal.RequireFromString("25.00"),
		Currency:      "USD",
	}
	assert.NoError(t, req.Validate())

	req.Amount = decimal.Zero
	assert.ErrorIs(t, req.Validate(), ErrInvalidAmount)

	req.Amount = decimal.RequireFromString("1")
	req.Currency = "XYZ"
	assert.True(t, IsConfigurationError(req.Validate()))

	req.Currency = "USD"
	req.Card = &CardInstrument{Number: "4111", CVV: "1", ExpiryMonth: 13}
	assert.True(t, IsValidationError(req.Validate()))
}
