package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChallengeState is the lifecycle state of a step-up authentication attempt.
//
//	Initiated -> ChallengePending -> Confirmed | Declined | Expired
//	Initiated -> Confirmed | Declined   (no challenge required)
type ChallengeState string

const (
	ChallengeInitiated  ChallengeState = "initiated"
	ChallengePending    ChallengeState = "challenge_pending"
	ChallengeConfirming ChallengeState = "confirming"
	ChallengeConfirmed  ChallengeState = "confirmed"
	ChallengeDeclined   ChallengeState = "declined"
	ChallengeExpired    ChallengeState = "expired"
)

var challengeTransitions = map[ChallengeState][]ChallengeState{
	ChallengeInitiated:  {ChallengePending, ChallengeConfirmed, ChallengeDeclined},
	ChallengePending:    {ChallengeConfirming, ChallengeExpired},
	ChallengeConfirming: {ChallengeConfirmed, ChallengeDeclined, ChallengeExpired},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s ChallengeState) CanTransition(next ChallengeState) bool {
	for _, allowed := range challengeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state accepts no further transitions.
func (s ChallengeState) IsTerminal() bool {
	return len(challengeTransitions[s]) == 0
}

// ChallengeSession holds the short-lived confirmation token and the redirect
// markup for a PAN-based 3DS attempt.
type ChallengeSession struct {
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Token           string          `json:"token"`
	TransactionID   string          `json:"transaction_id"`
	Provider        string          `json:"provider"`
	OrderID         string          `json:"order_id"`
	Currency        string          `json:"currency"`
	RedirectContent string          `json:"redirect_content"`
	State           ChallengeState  `json:"state"`
	Amount          decimal.Decimal `json:"amount"`
}

// ExpiredAt reports whether the session's validity window has closed at now.
func (s *ChallengeSession) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Transition moves the session to next, refusing illegal steps.
func (s *ChallengeSession) Transition(next ChallengeState) error {
	if !s.State.CanTransition(next) {
		return ErrChallengeConsumed.Withf("challenge cannot move from %s to %s", s.State, next)
	}
	s.State = next
	return nil
}
