package ports

import (
	"context"
	"time"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

// ChallengeStore persists challenge sessions between the Auth and Confirm legs.
type ChallengeStore interface {
	// Save stores a pending session until its ExpiresAt.
	Save(ctx context.Context, session *domain.ChallengeSession) error

	// Consume atomically takes the session out of the pending set so that it
	// can be confirmed at most once. It returns domain.ErrChallengeConsumed if
	// the token was already taken and domain.ErrChallengeExpired if it is
	// unknown or its window has closed.
	Consume(ctx context.Context, token string) (*domain.ChallengeSession, error)

	// Complete records the terminal state reached by a consumed session.
	Complete(ctx context.Context, token string, state domain.ChallengeState) error
}

// GuestTokenStore tracks single-use guest access tokens by token id.
type GuestTokenStore interface {
	Activate(ctx context.Context, tokenID, orderID string, ttl time.Duration) error
	// IsActive returns the order id bound to an unconsumed token.
	IsActive(ctx context.Context, tokenID string) (orderID string, active bool, err error)
	// Consume marks the token used. It returns domain.ErrGuestTokenConsumed
	// when another confirmation consumed it first.
	Consume(ctx context.Context, tokenID string) error
}

// RefundLocker serializes refund attempts against the same transaction.
type RefundLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}
