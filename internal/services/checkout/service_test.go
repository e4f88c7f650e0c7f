package checkout_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/kevin07696/esim-checkout/internal/adapters/redis"
	"github.com/kevin07696/esim-checkout/internal/auth"
	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/internal/services/challenge"
	"github.com/kevin07696/esim-checkout/internal/services/checkout"
	"github.com/kevin07696/esim-checkout/internal/services/confirmation"
	"github.com/kevin07696/esim-checkout/internal/services/gateway"
	"github.com/kevin07696/esim-checkout/internal/testutil/fixtures"
	"github.com/kevin07696/esim-checkout/internal/testutil/mocks"
	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

type mockSettler struct {
	mock.Mock
}

func (m *mockSettler) Settle(ctx context.Context, attempt *domain.PaymentAttempt, outcome *domain.GatewayOutcome, guest *domain.GuestAccessContext, accountID string) (*confirmation.ConfirmResult, error) {
	args := m.Called(ctx, attempt, outcome, guest, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*confirmation.ConfirmResult), args.Error(1)
}

type checkoutHarness struct {
	service        *checkout.Service
	ledger         *mocks.MockLedger
	settler        *mockSettler
	stripe         *mocks.MockProvider
	powertranz     *mocks.MockStepUpProvider
	guests         *auth.GuestTokenManager
	guestStore     *redisadapter.GuestTokenStore
	challengeStore *redisadapter.ChallengeStore
}

func newCheckoutHarness(t *testing.T) *checkoutHarness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := mocks.NewMockLogger()
	h := &checkoutHarness{
		ledger:         &mocks.MockLedger{},
		settler:        &mockSettler{},
		stripe:         mocks.NewMockProvider(domain.ProviderStripe),
		powertranz:     mocks.NewMockStepUpProvider(domain.ProviderPowerTranz),
		guestStore:     redisadapter.NewGuestTokenStore(client),
		challengeStore: redisadapter.NewChallengeStore(client),
	}
	h.guests, err = auth.NewGuestTokenManager("guest-secret-guest-secret-guest!", "esim-checkout", time.Hour)
	require.NoError(t, err)

	registry := gateway.NewRegistry(domain.ProviderStripe, logger)
	registry.Register(domain.ProviderStripe, func() (ports.ProviderAdapter, error) { return h.stripe, nil })
	registry.Register(domain.ProviderPowerTranz, func() (ports.ProviderAdapter, error) { return h.powertranz, nil })

	h.service = checkout.NewService(
		registry,
		challenge.NewHandler(h.challengeStore, logger),
		h.ledger,
		h.guestStore,
		h.guests,
		h.settler,
		resilience.TestTimeoutConfig(),
		checkout.Config{
			CallbackBaseURL: "https://api.shop.example.com/",
			CheckoutURL:     "https://shop.example.com/checkout",
		},
		logger,
	)
	return h
}

func stripePending(req *domain.PaymentIntentRequest) *domain.GatewayOutcome {
	return &domain.GatewayOutcome{
		Kind:              domain.OutcomePendingChallenge,
		TransactionID:     req.TransactionID,
		ProviderReference: "pi_new",
		Action: &domain.PayerAction{
			Kind:            domain.ActionClientSecret,
			RedirectContent: "pi_new_secret_abc",
			Reference:       "pi_new",
		},
	}
}

func TestCheckout_GuestCheckoutIssuesTokenAndRecordsAttempt(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	var sent *domain.PaymentIntentRequest
	h.stripe.On("Initiate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*domain.PaymentIntentRequest) }).
		Return(func(_ context.Context, req *domain.PaymentIntentRequest) *domain.GatewayOutcome { return stripePending(req) }, nil).
		Once()
	h.ledger.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *domain.PaymentAttempt) bool {
		return a.Status == domain.AttemptChallengePending &&
			a.ProviderReference == "pi_new" &&
			a.GuestTokenID != "" &&
			a.AccountID == "" &&
			a.Provider == domain.ProviderStripe
	})).Return(nil).Once()

	result, err := h.service.Initiate(ctx, checkout.InitiateCommand{
		Provider: "stripe",
		Request:  *fixtures.NewIntent().Build(),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Guest)
	assert.Equal(t, "ord_1", result.Guest.OrderID)
	assert.True(t, result.Outcome.ChallengeRequired())
	assert.Equal(t, "pi_new_secret_abc", result.Outcome.RedirectContent())

	require.NotNil(t, sent)
	assert.Equal(t, result.TransactionID, sent.TransactionID)
	u, err := url.Parse(sent.ReturnURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/payments/stripe/callback", u.Path)
	assert.Equal(t, result.Guest.Token, u.Query().Get("guest_token"))
	assert.Equal(t, "https://shop.example.com/checkout?order_id=ord_1", sent.CancelURL)

	orderID, active, err := h.guestStore.IsActive(ctx, result.Guest.TokenID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "ord_1", orderID)

	h.ledger.AssertExpectations(t)
}

func TestCheckout_AccountCheckoutHasNoGuestToken(t *testing.T) {
	h := newCheckoutHarness(t)

	h.stripe.On("Initiate", mock.Anything, mock.MatchedBy(func(r *domain.PaymentIntentRequest) bool {
		return r.ReturnURL == "https://api.shop.example.com/api/v1/payments/stripe/callback"
	})).Return(func(_ context.Context, req *domain.PaymentIntentRequest) *domain.GatewayOutcome { return stripePending(req) }, nil).Once()
	h.ledger.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *domain.PaymentAttempt) bool {
		return a.AccountID == "acct-1" && a.GuestTokenID == ""
	})).Return(nil).Once()

	// An empty tag resolves to the default provider
	result, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{
		AccountID: "acct-1",
		Request:   *fixtures.NewIntent().Build(),
	})
	require.NoError(t, err)
	assert.Nil(t, result.Guest)
	assert.Equal(t, domain.ProviderStripe, result.Provider)
	h.stripe.AssertExpectations(t)
	h.ledger.AssertExpectations(t)
}

func TestCheckout_EveryAttemptGetsAFreshTransactionID(t *testing.T) {
	h := newCheckoutHarness(t)

	h.stripe.On("Initiate", mock.Anything, mock.Anything).
		Return(func(_ context.Context, req *domain.PaymentIntentRequest) *domain.GatewayOutcome { return stripePending(req) }, nil)
	h.ledger.On("RecordAttempt", mock.Anything, mock.Anything).Return(nil)

	req := fixtures.NewIntent().WithTransactionID("caller-chosen").Build()
	first, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{AccountID: "acct-1", Request: *req})
	require.NoError(t, err)
	second, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{AccountID: "acct-1", Request: *req})
	require.NoError(t, err)

	assert.NotEqual(t, "caller-chosen", first.TransactionID)
	assert.NotEqual(t, first.TransactionID, second.TransactionID)
}

func TestCheckout_RejectsBeforeProviderCall(t *testing.T) {
	h := newCheckoutHarness(t)

	_, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{
		Provider: "venmo",
		Request:  *fixtures.NewIntent().Build(),
	})
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)

	_, err = h.service.Initiate(context.Background(), checkout.InitiateCommand{
		AccountID: "acct-1",
		Request:   *fixtures.NewIntent().WithAmount("0").Build(),
	})
	assert.True(t, domain.IsValidationError(err))

	_, err = h.service.Initiate(context.Background(), checkout.InitiateCommand{
		AccountID: "acct-1",
		Request:   *fixtures.NewIntent().WithCurrency("XYZ").Build(),
	})
	assert.True(t, domain.IsConfigurationError(err))

	h.stripe.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
	h.ledger.AssertNotCalled(t, "RecordAttempt", mock.Anything, mock.Anything)
}

func TestCheckout_TransientFailureIsDiscarded(t *testing.T) {
	h := newCheckoutHarness(t)

	h.stripe.On("Initiate", mock.Anything, mock.Anything).Return(nil, domain.ErrProviderTimeout).Once()

	result, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{
		AccountID: "acct-1",
		Request:   *fixtures.NewIntent().Build(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRequiresRetry, result.Outcome.Kind)
	assert.NotEmpty(t, result.Outcome.ReasonMessage)
	h.ledger.AssertNotCalled(t, "RecordAttempt", mock.Anything, mock.Anything)
}

func TestCheckout_StepUpProviderStoresChallenge(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	h.powertranz.On("Initiate", mock.Anything, mock.Anything).
		Return(func(_ context.Context, req *domain.PaymentIntentRequest) *domain.GatewayOutcome {
			return &domain.GatewayOutcome{
				Kind:              domain.OutcomePendingChallenge,
				TransactionID:     req.TransactionID,
				ProviderReference: req.TransactionID,
				Challenge:         &domain.ChallengeSession{Token: "spi-1", RedirectContent: "<form id='acs'></form>"},
			}
		}, nil).Once()
	h.ledger.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *domain.PaymentAttempt) bool {
		return a.Status == domain.AttemptChallengePending && a.Provider == domain.ProviderPowerTranz
	})).Return(nil).Once()

	result, err := h.service.Initiate(ctx, checkout.InitiateCommand{
		Provider:  "PowerTranz",
		AccountID: "acct-1",
		Request:   *fixtures.NewIntent().WithCard(fixtures.TestCard()).Build(),
	})
	require.NoError(t, err)
	assert.Equal(t, "spi-1", result.Outcome.ChallengeToken())

	session, err := h.challengeStore.Consume(ctx, "spi-1")
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, session.TransactionID)
	assert.Equal(t, "ord_1", session.OrderID)
}

func TestCheckout_StepUpDeclineIsRecordedWithoutSession(t *testing.T) {
	h := newCheckoutHarness(t)

	h.powertranz.On("Initiate", mock.Anything, mock.Anything).
		Return(func(_ context.Context, req *domain.PaymentIntentRequest) *domain.GatewayOutcome {
			return domain.Declined(req.TransactionID, "05", pkgerrors.CategoryDeclined, "Do not honor")
		}, nil).Once()
	h.ledger.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *domain.PaymentAttempt) bool {
		return a.Status == domain.AttemptDeclined && a.ReasonCode == string(pkgerrors.CategoryDeclined)
	})).Return(nil).Once()

	result, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{
		Provider:  domain.ProviderPowerTranz,
		AccountID: "acct-1",
		Request:   *fixtures.NewIntent().WithCard(fixtures.TestCard()).Build(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeclined, result.Outcome.Kind)
	h.settler.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.ledger.AssertExpectations(t)
}

func TestCheckout_ImmediateApprovalIsSettled(t *testing.T) {
	h := newCheckoutHarness(t)

	h.powertranz.On("Initiate", mock.Anything, mock.Anything).
		Return(func(_ context.Context, req *domain.PaymentIntentRequest) *domain.GatewayOutcome {
			return domain.Approved(req.TransactionID, req.TransactionID, req.Amount, req.Currency)
		}, nil).Once()
	h.ledger.On("RecordAttempt", mock.Anything, mock.MatchedBy(func(a *domain.PaymentAttempt) bool {
		return a.Status == domain.AttemptInitiated
	})).Return(nil).Once()
	h.settler.On("Settle", mock.Anything, mock.Anything, mock.Anything, mock.AnythingOfType("*domain.GuestAccessContext"), "").
		Return(&confirmation.ConfirmResult{Success: true, RedirectURL: "https://shop.example.com/orders/guest?order_id=ord_1"}, nil).
		Once()

	result, err := h.service.Initiate(context.Background(), checkout.InitiateCommand{
		Provider: domain.ProviderPowerTranz,
		Request:  *fixtures.NewIntent().WithCard(fixtures.TestCard()).Build(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, result.Outcome.Kind)
	assert.Equal(t, "https://shop.example.com/orders/guest?order_id=ord_1", result.RedirectURL)
	h.settler.AssertExpectations(t)
}

func TestCheckout_Status(t *testing.T) {
	h := newCheckoutHarness(t)

	attempt := fixtures.NewAttempt().WithStatus(domain.AttemptChallengePending).Build()
	h.ledger.On("LatestAttemptForOrder", mock.Anything, "ord_1").Return(attempt, nil).Once()
	h.ledger.On("LatestAttemptForOrder", mock.Anything, "ord_missing").Return(nil, domain.ErrTransactionNotFound).Once()

	status, err := h.service.Status(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptChallengePending, status.Status)
	assert.False(t, status.Completed)
	assert.Equal(t, attempt.TransactionID, status.TransactionID)

	_, err = h.service.Status(context.Background(), "ord_missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = h.service.Status(context.Background(), " ")
	assert.True(t, domain.IsValidationError(err))
}
