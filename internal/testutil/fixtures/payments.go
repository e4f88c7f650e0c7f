package fixtures

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

// TestCard is a PAN that passes local validation. It expires well after any
// test clock.
func TestCard() *domain.CardInstrument {
	return &domain.CardInstrument{
		Number:         "4012000000020071",
		CVV:            "123",
		ExpiryMonth:    12,
		ExpiryYear:     2099,
		CardholderName: "Test Buyer",
	}
}

// IntentBuilder provides fluent API for building initiate requests.
type IntentBuilder struct {
	req *domain.PaymentIntentRequest
}

// NewIntent creates an initiate request for 25.00 USD.
func NewIntent() *IntentBuilder {
	return &IntentBuilder{
		req: &domain.PaymentIntentRequest{
			TransactionID: domain.NewTransactionID(),
			OrderID:       "ord_1",
			Amount:        decimal.RequireFromString("25.00"),
			Currency:      "USD",
			Customer:      &domain.Customer{Email: "buyer@example.com", Name: "Test Buyer"},
			ReturnURL:     "https://shop.example.com/checkout/return",
		},
	}
}

func (b *IntentBuilder) WithAmount(amount string) *IntentBuilder {
	b.req.Amount = decimal.RequireFromString(amount)
	return b
}

func (b *IntentBuilder) WithCurrency(currency string) *IntentBuilder {
	b.req.Currency = currency
	return b
}

func (b *IntentBuilder) WithOrderID(orderID string) *IntentBuilder {
	b.req.OrderID = orderID
	return b
}

func (b *IntentBuilder) WithTransactionID(id string) *IntentBuilder {
	b.req.TransactionID = id
	return b
}

func (b *IntentBuilder) WithCard(card *domain.CardInstrument) *IntentBuilder {
	b.req.Card = card
	return b
}

func (b *IntentBuilder) Build() *domain.PaymentIntentRequest {
	return b.req
}

// AttemptBuilder provides fluent API for building ledger attempts.
type AttemptBuilder struct {
	attempt *domain.PaymentAttempt
}

// NewAttempt creates an approved 25.00 USD Stripe attempt.
func NewAttempt() *AttemptBuilder {
	now := time.Now()
	return &AttemptBuilder{
		attempt: &domain.PaymentAttempt{
			TransactionID:     domain.NewTransactionID(),
			OrderID:           "ord_1",
			Provider:          domain.ProviderStripe,
			ProviderReference: "pi_test_123",
			Amount:            decimal.RequireFromString("25.00"),
			Currency:          "USD",
			Status:            domain.AttemptApproved,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
}

func (b *AttemptBuilder) WithProvider(provider, reference string) *AttemptBuilder {
	b.attempt.Provider = provider
	b.attempt.ProviderReference = reference
	return b
}

func (b *AttemptBuilder) WithOrderID(orderID string) *AttemptBuilder {
	b.attempt.OrderID = orderID
	return b
}

func (b *AttemptBuilder) WithAccount(accountID string) *AttemptBuilder {
	b.attempt.AccountID = accountID
	return b
}

func (b *AttemptBuilder) WithTransactionID(id string) *AttemptBuilder {
	b.attempt.TransactionID = id
	return b
}

func (b *AttemptBuilder) WithAmount(amount string) *AttemptBuilder {
	b.attempt.Amount = decimal.RequireFromString(amount)
	return b
}

func (b *AttemptBuilder) WithRefunded(amount string) *AttemptBuilder {
	b.attempt.RefundedAmount = decimal.RequireFromString(amount)
	return b
}

func (b *AttemptBuilder) WithStatus(status domain.AttemptStatus) *AttemptBuilder {
	b.attempt.Status = status
	return b
}

func (b *AttemptBuilder) WithGuestToken(tokenID string) *AttemptBuilder {
	b.attempt.GuestTokenID = tokenID
	return b
}

func (b *AttemptBuilder) WithBranch(branch domain.ConfirmationBranch) *AttemptBuilder {
	b.attempt.Branch = branch
	return b
}

func (b *AttemptBuilder) Build() *domain.PaymentAttempt {
	return b.attempt
}
