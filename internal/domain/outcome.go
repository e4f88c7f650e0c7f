package domain

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
)

// OutcomeKind is the closed set of results a provider call can produce.
type OutcomeKind string

const (
	OutcomeApproved         OutcomeKind = "approved"
	OutcomeDeclined         OutcomeKind = "declined"
	OutcomePendingChallenge OutcomeKind = "pending-challenge"
	OutcomeRequiresRetry    OutcomeKind = "requires-retry"
	OutcomeFailed           OutcomeKind = "failed"
)

// IsTerminal reports whether no further provider interaction can change the outcome.
func (k OutcomeKind) IsTerminal() bool {
	return k == OutcomeApproved || k == OutcomeDeclined || k == OutcomeFailed
}

// ActionKind identifies what a redirect-first provider needs the payer to do.
type ActionKind string

const (
	ActionClientSecret  ActionKind = "client_secret"
	ActionApprovalURL   ActionKind = "approval_url"
	ActionCheckoutOrder ActionKind = "checkout_order"
)

// PayerAction is the out-of-band step a redirect-first provider (Stripe
// Elements, PayPal approval, Razorpay Checkout) hands back from initiate.
type PayerAction struct {
	Kind            ActionKind `json:"kind"`
	RedirectContent string     `json:"redirect_content"`
	// Reference is the artifact the payer's return leg must carry to confirm.
	Reference string `json:"reference"`
}

// GatewayOutcome is the provider-agnostic result of initiate and confirm.
type GatewayOutcome struct {
	Challenge         *ChallengeSession
	Action            *PayerAction
	Kind              OutcomeKind
	TransactionID     string
	ProviderReference string
	Currency          string
	ReasonCode        string
	ReasonMessage     string
	ProviderCode      string
	Category          pkgerrors.ErrorCategory
	Amount            decimal.Decimal
}

// Approved builds an approved outcome.
func Approved(transactionID, reference string, amount decimal.Decimal, currency string) *GatewayOutcome {
	return &GatewayOutcome{
		Kind:              OutcomeApproved,
		TransactionID:     transactionID,
		ProviderReference: reference,
		Amount:            amount,
		Currency:          currency,
		Category:          pkgerrors.CategoryApproved,
	}
}

// Declined builds a declined outcome with a normalized reason.
func Declined(transactionID, providerCode string, category pkgerrors.ErrorCategory, providerMessage string) *GatewayOutcome {
	if category == "" {
		category = pkgerrors.CategoryDeclined
	}
	return &GatewayOutcome{
		Kind:          OutcomeDeclined,
		TransactionID: transactionID,
		ProviderCode:  providerCode,
		Category:      category,
		ReasonCode:    string(category),
		ReasonMessage: pkgerrors.UserMessage(category, providerMessage),
	}
}

// RequiresRetry builds an outcome for an attempt the payer must restart.
func RequiresRetry(transactionID string, err error) *GatewayOutcome {
	return &GatewayOutcome{
		Kind:          OutcomeRequiresRetry,
		TransactionID: transactionID,
		Category:      pkgerrors.CategorySystemError,
		ReasonCode:    string(GetErrorCode(err)),
		ReasonMessage: UserMessage(err),
	}
}

// Failed builds a terminal, non-decline failure outcome.
func Failed(transactionID string, err error) *GatewayOutcome {
	return &GatewayOutcome{
		Kind:          OutcomeFailed,
		TransactionID: transactionID,
		Category:      pkgerrors.CategorySystemError,
		ReasonCode:    string(GetErrorCode(err)),
		ReasonMessage: UserMessage(err),
	}
}

// ChallengeRequired reports whether the payer must complete a step out of band.
func (o *GatewayOutcome) ChallengeRequired() bool {
	return o.Kind == OutcomePendingChallenge
}

// RedirectContent returns the markup, URL or client secret to present to the payer.
func (o *GatewayOutcome) RedirectContent() string {
	switch {
	case o.Challenge != nil:
		return o.Challenge.RedirectContent
	case o.Action != nil:
		return o.Action.RedirectContent
	}
	return ""
}

// ChallengeToken returns the artifact that the confirm leg must present.
func (o *GatewayOutcome) ChallengeToken() string {
	switch {
	case o.Challenge != nil:
		return o.Challenge.Token
	case o.Action != nil:
		return o.Action.Reference
	}
	return ""
}
