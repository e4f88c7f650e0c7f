package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

// MockChallengeStore is a testify mock of ports.ChallengeStore
type MockChallengeStore struct {
	mock.Mock
}

var _ ports.ChallengeStore = (*MockChallengeStore)(nil)

func (m *MockChallengeStore) Save(ctx context.Context, session *domain.ChallengeSession) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockChallengeStore) Consume(ctx context.Context, token string) (*domain.ChallengeSession, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChallengeSession), args.Error(1)
}

func (m *MockChallengeStore) Complete(ctx context.Context, token string, state domain.ChallengeState) error {
	return m.Called(ctx, token, state).Error(0)
}

// MockGuestTokenStore is a testify mock of ports.GuestTokenStore
type MockGuestTokenStore struct {
	mock.Mock
}

var _ ports.GuestTokenStore = (*MockGuestTokenStore)(nil)

func (m *MockGuestTokenStore) Activate(ctx context.Context, tokenID, orderID string, ttl time.Duration) error {
	return m.Called(ctx, tokenID, orderID, ttl).Error(0)
}

func (m *MockGuestTokenStore) IsActive(ctx context.Context, tokenID string) (string, bool, error) {
	args := m.Called(ctx, tokenID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockGuestTokenStore) Consume(ctx context.Context, tokenID string) error {
	return m.Called(ctx, tokenID).Error(0)
}

// MockRefundLocker is a testify mock of ports.RefundLocker. When no error is
// configured the callback runs inline.
type MockRefundLocker struct {
	mock.Mock
}

var _ ports.RefundLocker = (*MockRefundLocker)(nil)

func (m *MockRefundLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if err := m.Called(ctx, key, ttl).Error(0); err != nil {
		return err
	}
	return fn(ctx)
}

// MockLedger is a testify mock of ports.PaymentLedger
type MockLedger struct {
	mock.Mock
}

var _ ports.PaymentLedger = (*MockLedger)(nil)

func (m *MockLedger) RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

func (m *MockLedger) GetAttempt(ctx context.Context, transactionID string) (*domain.PaymentAttempt, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentAttempt), args.Error(1)
}

func (m *MockLedger) GetAttemptByReference(ctx context.Context, provider, reference string) (*domain.PaymentAttempt, error) {
	args := m.Called(ctx, provider, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentAttempt), args.Error(1)
}

func (m *MockLedger) LatestAttemptForOrder(ctx context.Context, orderID string) (*domain.PaymentAttempt, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentAttempt), args.Error(1)
}

func (m *MockLedger) MarkPaidGuest(ctx context.Context, transactionID, guestTokenID string) error {
	return m.Called(ctx, transactionID, guestTokenID).Error(0)
}

func (m *MockLedger) MarkPaidAccount(ctx context.Context, transactionID, accountID string) error {
	return m.Called(ctx, transactionID, accountID).Error(0)
}

func (m *MockLedger) MarkDeclined(ctx context.Context, transactionID, reasonCode string) error {
	return m.Called(ctx, transactionID, reasonCode).Error(0)
}

func (m *MockLedger) GetRefundByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.RefundRecord, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefundRecord), args.Error(1)
}

func (m *MockLedger) SaveRefund(ctx context.Context, transactionID string, refund *domain.RefundRecord, refundedDelta decimal.Decimal) error {
	return m.Called(ctx, transactionID, refund, refundedDelta).Error(0)
}

// MockNotifier is a testify mock of ports.Notifier
type MockNotifier struct {
	mock.Mock
}

var _ ports.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) NotifyGuest(ctx context.Context, orderID, email string) error {
	return m.Called(ctx, orderID, email).Error(0)
}

func (m *MockNotifier) NotifyAccount(ctx context.Context, accountID, orderID string) error {
	return m.Called(ctx, accountID, orderID).Error(0)
}
