package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

const refundLockPrefix = "refund:lock:"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RefundLocker implements ports.RefundLocker with a SET NX lock per key
type RefundLocker struct {
	client       goredis.UniversalClient
	logger       *zap.Logger
	retryBackoff time.Duration
	maxWait      time.Duration
}

var _ ports.RefundLocker = (*RefundLocker)(nil)

// NewRefundLocker creates a locker. A caller that cannot take the lock
// within maxWait gets ErrRefundInProgress.
func NewRefundLocker(client goredis.UniversalClient, retryBackoff, maxWait time.Duration, logger *zap.Logger) *RefundLocker {
	if retryBackoff <= 0 {
		retryBackoff = 50 * time.Millisecond
	}
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundLocker{client: client, logger: logger, retryBackoff: retryBackoff, maxWait: maxWait}
}

// WithLock runs fn while holding the lock for key. The lock is released even
// when fn fails.
func (l *RefundLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return domain.ErrInternalError.Withf("refund lock callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lockKey := refundLockPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(waitCtx, lockKey, token, ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return domain.ErrRefundInProgress
			}
			return domain.ErrDatabaseError.Wrap(fmt.Errorf("acquire refund lock: %w", err))
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryBackoff)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrRefundInProgress
		case <-timer.C:
		}
	}

	defer l.release(lockKey, token)
	return fn(ctx)
}

func (l *RefundLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		l.logger.Warn("Failed to release refund lock", zap.String("key", key), zap.Error(err))
	}
}
