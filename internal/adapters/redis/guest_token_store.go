package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

const (
	guestKeyPrefix     = "guest:"
	guestConsumedValue = "used:"
)

// consumeGuestScript marks a token used while keeping its TTL. Replies 1 on
// success, 0 for an unknown token and -1 when it was already used.
var consumeGuestScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
  return 0
end
if string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
  return -1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1] .. v, "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1] .. v)
end
return 1
`)

// GuestTokenStore implements ports.GuestTokenStore on Redis. The value holds
// the bound order id, prefixed once the token is consumed.
type GuestTokenStore struct {
	client goredis.UniversalClient
}

var _ ports.GuestTokenStore = (*GuestTokenStore)(nil)

// NewGuestTokenStore creates a Redis guest token store
func NewGuestTokenStore(client goredis.UniversalClient) *GuestTokenStore {
	return &GuestTokenStore{client: client}
}

// Activate registers a freshly issued token for orderID
func (s *GuestTokenStore) Activate(ctx context.Context, tokenID, orderID string, ttl time.Duration) error {
	if tokenID == "" || orderID == "" {
		return domain.ErrGuestTokenInvalid.Withf("guest token id and order id are required")
	}
	if ttl <= 0 {
		return domain.ErrInternalError.Withf("guest token ttl must be positive")
	}
	if err := s.client.Set(ctx, guestKeyPrefix+tokenID, orderID, ttl).Err(); err != nil {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("activate guest token: %w", err))
	}
	return nil
}

// IsActive reports the order bound to an unconsumed token
func (s *GuestTokenStore) IsActive(ctx context.Context, tokenID string) (string, bool, error) {
	v, err := s.client.Get(ctx, guestKeyPrefix+tokenID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.ErrDatabaseError.Wrap(fmt.Errorf("read guest token: %w", err))
	}
	if strings.HasPrefix(v, guestConsumedValue) {
		return strings.TrimPrefix(v, guestConsumedValue), false, nil
	}
	return v, true, nil
}

// Consume marks the token used
func (s *GuestTokenStore) Consume(ctx context.Context, tokenID string) error {
	n, err := consumeGuestScript.Run(ctx, s.client, []string{guestKeyPrefix + tokenID}, guestConsumedValue).Int()
	if err != nil {
		return domain.ErrDatabaseError.Wrap(fmt.Errorf("consume guest token: %w", err))
	}
	switch n {
	case 1:
		return nil
	case -1:
		return domain.ErrGuestTokenConsumed
	default:
		return domain.ErrGuestTokenInvalid.Withf("guest token is unknown or expired")
	}
}
