package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

// MockProvider is a testify mock of ports.ProviderAdapter
type MockProvider struct {
	mock.Mock
	SlugValue string
	NameValue string
}

var _ ports.ProviderAdapter = (*MockProvider)(nil)

// NewMockProvider creates a provider mock answering to slug
func NewMockProvider(slug string) *MockProvider {
	return &MockProvider{SlugValue: slug, NameValue: slug}
}

func (m *MockProvider) Slug() string { return m.SlugValue }
func (m *MockProvider) Name() string { return m.NameValue }

// Initiate also accepts a func(ctx, req) *domain.GatewayOutcome return value
// so tests can echo the minted TransactionIdentifier.
func (m *MockProvider) Initiate(ctx context.Context, req *domain.PaymentIntentRequest) (*domain.GatewayOutcome, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, *domain.PaymentIntentRequest) *domain.GatewayOutcome); ok {
		return fn(ctx, req), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayOutcome), args.Error(1)
}

func (m *MockProvider) Confirm(ctx context.Context, req *domain.ConfirmRequest) (*domain.GatewayOutcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayOutcome), args.Error(1)
}

func (m *MockProvider) Refund(ctx context.Context, req *domain.RefundRequest) (*domain.RefundResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefundResponse), args.Error(1)
}

func (m *MockProvider) Lookup(ctx context.Context, reference string) (*domain.TransactionDetails, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransactionDetails), args.Error(1)
}

func (m *MockProvider) HealthCheck(ctx context.Context) domain.ProviderHealth {
	args := m.Called(ctx)
	return args.Get(0).(domain.ProviderHealth)
}

// MockStepUpProvider adds a challenge window to MockProvider
type MockStepUpProvider struct {
	MockProvider
	Window time.Duration
}

var _ ports.StepUpAdapter = (*MockStepUpProvider)(nil)

// NewMockStepUpProvider creates a step-up provider mock with a five minute window
func NewMockStepUpProvider(slug string) *MockStepUpProvider {
	return &MockStepUpProvider{
		MockProvider: MockProvider{SlugValue: slug, NameValue: slug},
		Window:       5 * time.Minute,
	}
}

func (m *MockStepUpProvider) ChallengeWindow() time.Duration { return m.Window }
