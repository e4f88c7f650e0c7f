package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func pendingSession(token string, now time.Time) *domain.ChallengeSession {
	return &domain.ChallengeSession{
		Token:           token,
		TransactionID:   "tx-1",
		Provider:        domain.ProviderPowerTranz,
		OrderID:         "ord_1",
		Amount:          decimal.RequireFromString("25.00"),
		Currency:        "USD",
		RedirectContent: "<form></form>",
		State:           domain.ChallengePending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(5 * time.Minute),
	}
}

func TestChallengeStore_ConsumeOnce(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewChallengeStore(client, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingSession("spi-1", now)))

	session, err := store.Consume(ctx, "spi-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeConfirming, session.State)
	assert.Equal(t, "tx-1", session.TransactionID)
	assert.True(t, decimal.RequireFromString("25").Equal(session.Amount))

	_, err = store.Consume(ctx, "spi-1")
	assert.ErrorIs(t, err, domain.ErrChallengeConsumed)
}

func TestChallengeStore_CompleteRecordsTerminalState(t *testing.T) {
	mr, client := newTestRedis(t)
	now := time.Now()
	store := NewChallengeStore(client, WithClock(func() time.Time { return now }), WithTombstoneTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingSession("spi-1", now)))
	_, err := store.Consume(ctx, "spi-1")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "spi-1", domain.ChallengeConfirmed))

	state, ok, err := store.State(ctx, "spi-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ChallengeConfirmed, state)
	assert.Equal(t, time.Hour, mr.TTL(challengeDonePrefix+"spi-1"))

	_, err = store.Consume(ctx, "spi-1")
	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domain.ErrorCodeChallengeConsumed, domainErr.Code)
	assert.Equal(t, string(domain.ChallengeConfirmed), domainErr.Details["state"])
}

func TestChallengeStore_CompleteUnknownTokenIsNoop(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewChallengeStore(client)

	require.NoError(t, store.Complete(context.Background(), "never-issued", domain.ChallengeDeclined))
	_, ok, err := store.State(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeStore_UnknownToken(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewChallengeStore(client)

	_, err := store.Consume(context.Background(), "never-issued")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)

	_, err = store.Consume(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)
	assert.Equal(t, "unknown", challengeReason(t, err))
}

func challengeReason(t *testing.T, err error) interface{} {
	t.Helper()
	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	return de.Details["reason"]
}

func TestChallengeStore_UnknownAndExpiredAreTaggedApart(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Now()
	clock := now
	store := NewChallengeStore(client, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := store.Consume(ctx, "never-issued")
	require.ErrorIs(t, err, domain.ErrChallengeExpired)
	assert.Equal(t, "unknown", challengeReason(t, err))

	require.NoError(t, store.Save(ctx, pendingSession("spi-1", now)))
	clock = now.Add(5 * time.Minute)
	_, err = store.Consume(ctx, "spi-1")
	require.ErrorIs(t, err, domain.ErrChallengeExpired)
	assert.Equal(t, "expired", challengeReason(t, err))

	assert.Nil(t, domain.ErrChallengeExpired.Details["reason"], "the shared error value stays untouched")
}

// TestChallengeStore_ExpiredByRedis tests that the key TTL enforces the window
func TestChallengeStore_ExpiredByRedis(t *testing.T) {
	mr, client := newTestRedis(t)
	now := time.Now()
	store := NewChallengeStore(client, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingSession("spi-1", now)))
	mr.FastForward(5*time.Minute + time.Second)

	_, err := store.Consume(ctx, "spi-1")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)
}

// TestChallengeStore_ExpiredByClock tests the window check when the key outlives it
func TestChallengeStore_ExpiredByClock(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Now()
	clock := now
	store := NewChallengeStore(client, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingSession("spi-1", now)))
	clock = now.Add(5 * time.Minute)

	_, err := store.Consume(ctx, "spi-1")
	assert.ErrorIs(t, err, domain.ErrChallengeExpired)

	state, ok, err := store.State(ctx, "spi-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ChallengeExpired, state)
}

func TestChallengeStore_SaveRejects(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Now()
	store := NewChallengeStore(client, WithClock(func() time.Time { return now }))

	expired := pendingSession("spi-1", now.Add(-10*time.Minute))
	assert.ErrorIs(t, store.Save(context.Background(), expired), domain.ErrChallengeExpired)

	notPending := pendingSession("spi-2", now)
	notPending.State = domain.ChallengeInitiated
	assert.ErrorIs(t, store.Save(context.Background(), notPending), domain.ErrInternalError)
}

func TestChallengeStore_ConcurrentConsume(t *testing.T) {
	_, client := newTestRedis(t)
	now := time.Now()
	store := NewChallengeStore(client, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, pendingSession("spi-1", now)))

	var wins, consumed int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, "spi-1")
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, domain.ErrChallengeConsumed):
				atomic.AddInt32(&consumed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), consumed)
}

func TestGuestTokenStore_Lifecycle(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewGuestTokenStore(client)
	ctx := context.Background()

	require.NoError(t, store.Activate(ctx, "jti-1", "ord_1", time.Hour))

	orderID, active, err := store.IsActive(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "ord_1", orderID)

	require.NoError(t, store.Consume(ctx, "jti-1"))
	assert.Equal(t, time.Hour, mr.TTL(guestKeyPrefix+"jti-1"))

	orderID, active, err = store.IsActive(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, "ord_1", orderID)

	assert.ErrorIs(t, store.Consume(ctx, "jti-1"), domain.ErrGuestTokenConsumed)
}

func TestGuestTokenStore_Unknown(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewGuestTokenStore(client)

	_, active, err := store.IsActive(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, active)

	assert.ErrorIs(t, store.Consume(context.Background(), "missing"), domain.ErrGuestTokenInvalid)
}

func TestGuestTokenStore_Expires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewGuestTokenStore(client)
	ctx := context.Background()

	require.NoError(t, store.Activate(ctx, "jti-1", "ord_1", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, active, err := store.IsActive(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRefundLocker_Serializes(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRefundLocker(client, 5*time.Millisecond, time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	var order []string
	var mu sync.Mutex
	firstIn := make(chan struct{})
	releaseFirst := make(chan struct{})
	done := make(chan error, 2)

	go func() {
		done <- locker.WithLock(ctx, "ord_1-r1", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstIn)
			<-releaseFirst
			return nil
		})
	}()
	<-firstIn

	go func() {
		done <- locker.WithLock(ctx, "ord_1-r1", time.Second, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRefundLocker_BusyKey(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRefundLocker(client, 5*time.Millisecond, 30*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, mr.Set(refundLockPrefix+"ord_1-r1", "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), "ord_1-r1", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrRefundInProgress)
	assert.True(t, domain.IsRetryable(err))
	assert.False(t, called)
}

func TestRefundLocker_ReleasesOnError(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRefundLocker(client, 5*time.Millisecond, time.Second, zaptest.NewLogger(t))
	boom := errors.New("provider exploded")

	err := locker.WithLock(context.Background(), "ord_1-r1", time.Second, func(context.Context) error {
		assert.True(t, mr.Exists(refundLockPrefix+"ord_1-r1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(refundLockPrefix+"ord_1-r1"))
}
