package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

const (
	challengeKeyPrefix   = "challenge:"
	challengeDonePrefix  = "challenge:done:"
	defaultTombstoneTTL  = 24 * time.Hour
	consumeStatusOK      = "ok"
	consumeStatusTaken   = "taken"
	consumeStatusMissing = "missing"
)

// consumeScript moves a pending session to its tombstone in one step. A
// token can leave the pending set only once.
var consumeScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
  redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
  return {"ok", v}
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return {"taken", redis.call("GET", KEYS[2])}
end
return {"missing", ""}
`)

// completeScript overwrites the tombstone state and keeps its remaining TTL
var completeScript = goredis.NewScript(`
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  return redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
end
return false
`)

// ChallengeStore implements ports.ChallengeStore on Redis
type ChallengeStore struct {
	client       goredis.UniversalClient
	now          func() time.Time
	tombstoneTTL time.Duration
}

var _ ports.ChallengeStore = (*ChallengeStore)(nil)

// ChallengeStoreOption configures a ChallengeStore
type ChallengeStoreOption func(*ChallengeStore)

// WithClock overrides the store's clock
func WithClock(now func() time.Time) ChallengeStoreOption {
	return func(s *ChallengeStore) { s.now = now }
}

// WithTombstoneTTL sets how long a consumed token is remembered
func WithTombstoneTTL(ttl time.Duration) ChallengeStoreOption {
	return func(s *ChallengeStore) { s.tombstoneTTL = ttl }
}

// NewChallengeStore creates a Redis challenge store
func NewChallengeStore(client goredis.UniversalClient, opts ...ChallengeStoreOption) *ChallengeStore {
	s := &ChallengeStore{
		client:       client,
		now:          time.Now,
		tombstoneTTL: defaultTombstoneTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a pending session until its ExpiresAt
func (s *ChallengeStore) Save(ctx context.Context, session *domain.ChallengeSession) error {
	if session == nil || session.Token == "" {
		return domain.ErrInternalError.Withf("challenge session has no token")
	}
	if session.State != domain.ChallengePending {
		return domain.ErrInternalError.Withf("only pending sessions are stored, got %s", session.State)
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return domain.ErrChallengeExpired
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return domain.ErrInternalError.Wrap(err)
	}
	if err := s.client.Set(ctx, challengeKeyPrefix+session.Token, payload, ttl).Err(); err != nil {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("save challenge session: %w", err))
	}
	return nil
}

// Consume takes the session out of the pending set and returns it in the
// confirming state.
func (s *ChallengeStore) Consume(ctx context.Context, token string) (*domain.ChallengeSession, error) {
	if token == "" {
		return nil, challengeGone(reasonUnknown)
	}

	res, err := consumeScript.Run(ctx, s.client,
		[]string{challengeKeyPrefix + token, challengeDonePrefix + token},
		string(domain.ChallengeConfirming), s.tombstoneTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, domain.ErrDatabaseError.Wrap(fmt.Errorf("consume challenge session: %w", err))
	}
	if len(res) != 2 {
		return nil, domain.ErrInternalError.Withf("unexpected consume reply %v", res)
	}

	status, _ := res[0].(string)
	switch status {
	case consumeStatusTaken:
		state, _ := res[1].(string)
		return nil, domain.ErrChallengeConsumed.Wrap(nil).WithDetail("state", state)
	case consumeStatusMissing:
		// Never issued, or purged by its TTL
		return nil, challengeGone(reasonUnknown)
	case consumeStatusOK:
	default:
		return nil, domain.ErrInternalError.Withf("unexpected consume status %q", status)
	}

	raw, _ := res[1].(string)
	var session domain.ChallengeSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, domain.ErrInternalError.Wrap(err)
	}

	// Redis expiry has a small grace period; the window is enforced here too
	if session.ExpiredAt(s.now()) {
		_ = s.Complete(ctx, token, domain.ChallengeExpired)
		return nil, challengeGone(reasonExpired)
	}
	if err := session.Transition(domain.ChallengeConfirming); err != nil {
		return nil, err
	}
	return &session, nil
}

const (
	reasonUnknown = "unknown"
	reasonExpired = "expired"
)

// challengeGone reports a session that cannot be confirmed. Both cases answer
// the payer the same way; reason tells them apart in logs.
func challengeGone(reason string) *domain.DomainError {
	return domain.ErrChallengeExpired.Wrap(nil).WithDetail("reason", reason)
}

// Complete records the terminal state reached by a consumed session
func (s *ChallengeStore) Complete(ctx context.Context, token string, state domain.ChallengeState) error {
	err := completeScript.Run(ctx, s.client, []string{challengeDonePrefix + token}, string(state)).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("complete challenge session: %w", err))
	}
	return nil
}

// State returns the recorded state of a consumed token, for diagnostics
func (s *ChallengeStore) State(ctx context.Context, token string) (domain.ChallengeState, bool, error) {
	v, err := s.client.Get(ctx, challengeDonePrefix+token).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.ErrDatabaseError.Wrap(err)
	}
	return domain.ChallengeState(v), true, nil
}
