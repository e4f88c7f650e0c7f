// Package challenge drives the two-phase Auth -> Confirm flow of step-up
// (3DS SPI) providers around a single-use ChallengeSession.
package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/pkg/observability"
)

// SessionGuard runs after a session is consumed and before the provider is
// called. Returning an error aborts the confirm and expires the session.
type SessionGuard func(session *domain.ChallengeSession) error

// Handler owns the challenge state machine. Confirm is only reachable
// through a token that a successful Auth stored.
type Handler struct {
	store  ports.ChallengeStore
	logger ports.Logger
	now    func() time.Time
}

// NewHandler creates a challenge handler
func NewHandler(store ports.ChallengeStore, logger ports.Logger) *Handler {
	return &Handler{store: store, logger: logger, now: time.Now}
}

// Initiate performs the Auth phase. A pending-challenge outcome stores the
// session for the adapter's window. A transient failure (timeout included)
// becomes a failed outcome with nothing stored: the payer must restart with
// a new TransactionIdentifier.
func (h *Handler) Initiate(ctx context.Context, adapter ports.StepUpAdapter, req *domain.PaymentIntentRequest) (*domain.GatewayOutcome, error) {
	outcome, err := adapter.Initiate(ctx, req)
	if err != nil {
		if domain.IsTransientError(err) {
			h.logger.Warn("Auth phase failed, attempt discarded",
				ports.String("provider", adapter.Slug()),
				ports.String("transaction_id", req.TransactionID),
				ports.Err(err),
			)
			return domain.Failed(req.TransactionID, err), nil
		}
		return nil, err
	}

	if outcome.Kind != domain.OutcomePendingChallenge {
		observability.RecordChallengeTransition(adapter.Slug(), string(outcome.Kind))
		return outcome, nil
	}

	session := outcome.Challenge
	if session == nil || session.Token == "" {
		return nil, domain.ErrInvalidProviderReply.Withf("%s returned a challenge without a token", adapter.Slug())
	}
	h.fillSession(session, adapter, req)

	if err := h.store.Save(ctx, session); err != nil {
		h.logger.Error("Failed to store challenge session",
			ports.String("provider", adapter.Slug()),
			ports.String("transaction_id", session.TransactionID),
			ports.Err(err),
		)
		return nil, err
	}

	observability.RecordChallengeTransition(adapter.Slug(), string(domain.ChallengePending))
	h.logger.Info("Challenge pending",
		ports.String("provider", adapter.Slug()),
		ports.String("transaction_id", session.TransactionID),
		ports.String("order_id", session.OrderID),
	)
	return outcome, nil
}

func (h *Handler) fillSession(session *domain.ChallengeSession, adapter ports.StepUpAdapter, req *domain.PaymentIntentRequest) {
	if session.TransactionID == "" {
		session.TransactionID = req.TransactionID
	}
	if session.OrderID == "" {
		session.OrderID = req.OrderID
	}
	if session.Currency == "" {
		session.Currency = req.Currency
	}
	if session.Amount.IsZero() {
		session.Amount = req.Amount
	}
	session.Provider = adapter.Slug()
	session.State = domain.ChallengePending

	now := h.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	// The window is never longer than the adapter allows.
	if limit := session.CreatedAt.Add(adapter.ChallengeWindow()); session.ExpiresAt.IsZero() || session.ExpiresAt.After(limit) {
		session.ExpiresAt = limit
	}
}

// Confirm consumes the session for req.ChallengeToken and redeems it with the
// provider. An unknown or timed-out token is ErrChallengeExpired and a token
// that was already used is ErrChallengeConsumed; neither reaches the provider.
//
// The consumed session is always returned once consumption succeeded. On a
// transient provider error it stays in the confirming state and the caller
// settles it with Settle after re-checking the provider's status.
func (h *Handler) Confirm(ctx context.Context, adapter ports.StepUpAdapter, req *domain.ConfirmRequest, guards ...SessionGuard) (*domain.GatewayOutcome, *domain.ChallengeSession, error) {
	token := strings.TrimSpace(req.ChallengeToken)
	if token == "" {
		return nil, nil, domain.ErrValidationFailed.Withf("challenge token is required")
	}

	session, err := h.store.Consume(ctx, token)
	if err != nil {
		h.logger.Info("Challenge token rejected",
			ports.String("provider", adapter.Slug()),
			ports.String("code", string(domain.GetErrorCode(err))),
		)
		return nil, nil, err
	}

	if session.Provider != adapter.Slug() {
		h.Settle(ctx, session, domain.ChallengeExpired)
		return nil, session, domain.ErrChallengeExpired.Withf("challenge token does not belong to %s", adapter.Slug())
	}
	for _, guard := range guards {
		if err := guard(session); err != nil {
			h.Settle(ctx, session, domain.ChallengeExpired)
			return nil, session, err
		}
	}

	confirmReq := *req
	confirmReq.ChallengeToken = token
	confirmReq.TransactionID = session.TransactionID

	outcome, err := adapter.Confirm(ctx, &confirmReq)
	if err != nil {
		h.logger.Warn("Challenge confirm failed",
			ports.String("provider", adapter.Slug()),
			ports.String("transaction_id", session.TransactionID),
			ports.Err(err),
		)
		if !domain.IsTransientError(err) {
			h.Settle(ctx, session, domain.ChallengeDeclined)
		}
		return nil, session, err
	}
	if outcome.TransactionID == "" {
		outcome.TransactionID = session.TransactionID
	}

	h.SettleOutcome(ctx, session, outcome)
	return outcome, session, nil
}

// SettleOutcome records the terminal state an outcome implies. Outcomes that
// are not terminal leave the session confirming until its tombstone expires.
func (h *Handler) SettleOutcome(ctx context.Context, session *domain.ChallengeSession, outcome *domain.GatewayOutcome) {
	switch outcome.Kind {
	case domain.OutcomeApproved:
		h.Settle(ctx, session, domain.ChallengeConfirmed)
	case domain.OutcomeDeclined, domain.OutcomeFailed:
		h.Settle(ctx, session, domain.ChallengeDeclined)
	}
}

// Settle moves a consumed session to a terminal state
func (h *Handler) Settle(ctx context.Context, session *domain.ChallengeSession, state domain.ChallengeState) {
	if err := session.Transition(state); err != nil {
		h.logger.Warn("Ignoring challenge transition",
			ports.String("transaction_id", session.TransactionID),
			ports.String("from", string(session.State)),
			ports.String("to", string(state)),
		)
		return
	}
	if err := h.store.Complete(ctx, session.Token, state); err != nil {
		h.logger.Error("Failed to record challenge state",
			ports.String("transaction_id", session.TransactionID),
			ports.String("state", string(state)),
			ports.Err(err),
		)
	}
	observability.RecordChallengeTransition(session.Provider, string(state))
}
