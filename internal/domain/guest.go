package domain

import "time"

// GuestAccessContext correlates an anonymous checkout with its order.
type GuestAccessContext struct {
	ExpiresAt time.Time
	Token     string
	TokenID   string
	OrderID   string
	Email     string
}

// ConfirmationBranch names the downstream target a confirmed payment attaches to.
type ConfirmationBranch string

const (
	BranchGuest   ConfirmationBranch = "guest"
	BranchAccount ConfirmationBranch = "account"
)

// ConfirmationTarget is the result of guest/account resolution.
type ConfirmationTarget struct {
	Guest       *GuestAccessContext
	Branch      ConfirmationBranch
	AccountID   string
	RedirectURL string
}

// ProviderHealth is one row of the operational health surface.
type ProviderHealth struct {
	ResponseTimeMs *int64 `json:"responseTimeMs,omitempty"`
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	Healthy        bool   `json:"healthy"`
}

// NewProviderHealth measures elapsed time since start and records err, if any.
func NewProviderHealth(slug, name string, start time.Time, err error) ProviderHealth {
	elapsed := time.Since(start).Milliseconds()
	h := ProviderHealth{
		Slug:           slug,
		Name:           name,
		Healthy:        err == nil,
		ResponseTimeMs: &elapsed,
	}
	if err != nil {
		h.ErrorMessage = err.Error()
	}
	return h
}
