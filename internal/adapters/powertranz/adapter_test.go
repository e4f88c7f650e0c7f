package powertranz

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/testutil/fixtures"
	"github.com/kevin07696/esim-checkout/internal/testutil/mocks"
	pkgerrors "github.com/kevin07696/esim-checkout/pkg/errors"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:             baseURL,
		PowerTranzID:        "88801234",
		Password:            "secret",
		MerchantResponseURL: "https://shop.example.com/api/v1/payments/powertranz/callback",
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(testConfig(srv.URL), srv.Client(), resilience.TestTimeoutConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return a
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// TestNewAdapter_MissingCredentials tests that configuration problems surface at construction
func TestNewAdapter_MissingCredentials(t *testing.T) {
	_, err := NewAdapter(Config{BaseURL: "https://staging.ptranz.com"}, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

// TestInitiate_ChallengeRequired tests that SP4 produces a pending challenge with the SpiToken
func TestInitiate_ChallengeRequired(t *testing.T) {
	var got saleRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/spi/sale", r.URL.Path)
		assert.Equal(t, "88801234", r.Header.Get("PowerTranz-PowerTranzId"))
		assert.Equal(t, "secret", r.Header.Get("PowerTranz-PowerTranzPassword"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeJSON(t, w, map[string]interface{}{
			"TransactionIdentifier": got.TransactionIdentifier,
			"IsoResponseCode":       "SP4",
			"ResponseMessage":       "SPI Preprocessing complete",
			"SpiToken":              "spi-token-1",
			"RedirectData":          "<form id='acs'></form>",
			"Approved":              false,
		})
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	req := fixtures.NewIntent().WithCard(fixtures.TestCard()).Build()
	outcome, err := a.Initiate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomePendingChallenge, outcome.Kind)
	assert.True(t, outcome.ChallengeRequired())
	assert.Equal(t, "spi-token-1", outcome.ChallengeToken())
	assert.Equal(t, "<form id='acs'></form>", outcome.RedirectContent())
	require.NotNil(t, outcome.Challenge)
	assert.Equal(t, domain.ChallengePending, outcome.Challenge.State)
	assert.Equal(t, fixed.Add(5*time.Minute), outcome.Challenge.ExpiresAt)

	assert.Equal(t, req.TransactionID, got.TransactionIdentifier)
	assert.Equal(t, json.Number("25.00"), got.TotalAmount)
	assert.Equal(t, "840", got.CurrencyCode)
	assert.True(t, got.ThreeDSecure)
	assert.Equal(t, "9912", got.Source.CardExpiration)
	assert.Equal(t, "ord_1", got.OrderIdentifier)
}

// TestInitiate_ApprovedWithoutChallenge tests a frictionless approval
func TestInitiate_ApprovedWithoutChallenge(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"IsoResponseCode": "00", "Approved": true})
	})

	req := fixtures.NewIntent().WithCard(fixtures.TestCard()).Build()
	outcome, err := a.Initiate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome.Kind)
	assert.Equal(t, req.TransactionID, outcome.ProviderReference)
}

// TestInitiate_OtherCodesDecline tests that every non-SP4, non-approval code is a terminal decline
func TestInitiate_OtherCodesDecline(t *testing.T) {
	tests := []struct {
		name         string
		code         string
		wantCategory pkgerrors.ErrorCategory
	}{
		{name: "insufficient funds", code: "51", wantCategory: pkgerrors.CategoryInsufficientFunds},
		{name: "do not honor", code: "05", wantCategory: pkgerrors.CategoryDeclined},
		{name: "unknown code", code: "Z9", wantCategory: pkgerrors.CategoryDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, map[string]interface{}{"IsoResponseCode": tt.code, "Approved": false, "ResponseMessage": "Declined"})
			})

			outcome, err := a.Initiate(context.Background(), fixtures.NewIntent().WithCard(fixtures.TestCard()).Build())
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeDeclined, outcome.Kind)
			assert.Equal(t, tt.code, outcome.ProviderCode)
			assert.Equal(t, tt.wantCategory, outcome.Category)
			assert.NotEmpty(t, outcome.ReasonMessage)
		})
	}
}

// TestInitiate_RejectedBeforeNetwork tests that configuration and validation errors never reach the wire
func TestInitiate_RejectedBeforeNetwork(t *testing.T) {
	expired := fixtures.TestCard()
	expired.ExpiryYear = 2001

	tests := []struct {
		name    string
		req     *domain.PaymentIntentRequest
		wantErr error
	}{
		{
			name:    "unsupported currency",
			req:     fixtures.NewIntent().WithCurrency("XYZ").WithCard(fixtures.TestCard()).Build(),
			wantErr: domain.ErrUnsupportedCurrency,
		},
		{
			name:    "zero amount",
			req:     fixtures.NewIntent().WithAmount("0").WithCard(fixtures.TestCard()).Build(),
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "sub-cent amount",
			req:     fixtures.NewIntent().WithAmount("25.001").WithCard(fixtures.TestCard()).Build(),
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "missing card",
			req:     fixtures.NewIntent().Build(),
			wantErr: domain.ErrInvalidInstrument,
		},
		{
			name:    "expired card",
			req:     fixtures.NewIntent().WithCard(expired).Build(),
			wantErr: domain.ErrInvalidInstrument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockHTTPClient(nil)
			a, err := NewAdapter(testConfig("https://staging.ptranz.com"), client, resilience.TestTimeoutConfig(), zaptest.NewLogger(t))
			require.NoError(t, err)

			outcome, err := a.Initiate(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, client.Calls(), "no HTTP call may be made")
		})
	}
}

// TestInitiate_TransportTimeout tests that an Auth-phase timeout is transient and creates no session
func TestInitiate_TransportTimeout(t *testing.T) {
	client := mocks.NewMockHTTPClient(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	a, err := NewAdapter(testConfig("https://staging.ptranz.com"), client, resilience.TestTimeoutConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	outcome, err := a.Initiate(context.Background(), fixtures.NewIntent().WithCard(fixtures.TestCard()).Build())
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
	assert.True(t, domain.IsRetryable(err))
}

// TestConfirm_Approved tests redeeming the SpiToken
func TestConfirm_Approved(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/spi/payment", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `"spi-token-1"`, string(body))

		writeJSON(t, w, map[string]interface{}{
			"TransactionIdentifier": "tx-1",
			"IsoResponseCode":       "00",
			"Approved":              true,
			"TotalAmount":           25.00,
			"CurrencyCode":          "840",
		})
	})

	outcome, err := a.Confirm(context.Background(), &domain.ConfirmRequest{Provider: "powertranz", ChallengeToken: "spi-token-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome.Kind)
	assert.Equal(t, "tx-1", outcome.TransactionID)
	assert.True(t, decimal.RequireFromString("25").Equal(outcome.Amount))
	assert.Equal(t, "USD", outcome.Currency)
}

// TestConfirm_AuthenticationFailed tests a failed challenge
func TestConfirm_AuthenticationFailed(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"TransactionIdentifier": "tx-1", "IsoResponseCode": "3D5", "Approved": false})
	})

	outcome, err := a.Confirm(context.Background(), &domain.ConfirmRequest{ChallengeToken: "spi-token-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeclined, outcome.Kind)
	assert.Equal(t, pkgerrors.CategoryAuthenticationFailed, outcome.Category)
}

// TestConfirm_MissingToken tests local rejection of an empty token
func TestConfirm_MissingToken(t *testing.T) {
	client := mocks.NewMockHTTPClient(nil)
	a, err := NewAdapter(testConfig("https://staging.ptranz.com"), client, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = a.Confirm(context.Background(), &domain.ConfirmRequest{})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Empty(t, client.Calls())
}

// TestRefund_SendsExternalIdentifier tests the refund wire format
func TestRefund_SendsExternalIdentifier(t *testing.T) {
	var got refundRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/refund", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]interface{}{"Approved": true, "IsoResponseCode": "00", "RRN": "rrn-9"})
	})

	resp, err := a.Refund(context.Background(), &domain.RefundRequest{
		Provider:          "powertranz",
		TransactionID:     "tx-1",
		ProviderReference: "tx-1",
		OrderID:           "ord_1",
		Amount:            fixtures.DecimalPtr("10.00"),
		Currency:          "USD",
		Reason:            domain.RefundReasonRequestedByCustomer,
		IdempotencyKey:    "ord_1-refund-1",
	})
	require.NoError(t, err)

	assert.True(t, got.Refund)
	assert.Equal(t, "tx-1", got.TransactionIdentifier)
	assert.Equal(t, json.Number("10.00"), got.TotalAmount)
	assert.Equal(t, "ord_1-refund-1", got.ExternalIdentifier)

	assert.Equal(t, domain.RefundStatusSucceeded, resp.Status)
	assert.Equal(t, "rrn-9", resp.RefundID)
}

// TestRefund_ServerErrorIsRetryable tests that 5xx on refund stays retryable
func TestRefund_ServerErrorIsRetryable(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := a.Refund(context.Background(), &domain.RefundRequest{
		TransactionID:  "tx-1",
		Amount:         fixtures.DecimalPtr("10.00"),
		Currency:       "USD",
		IdempotencyKey: "k",
	})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

// TestLookup_MapsRefunds tests transaction lookup with prior refunds
func TestLookup_MapsRefunds(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions/tx-1", r.URL.Path)
		writeJSON(t, w, map[string]interface{}{
			"TransactionIdentifier": "tx-1",
			"Approved":              true,
			"IsoResponseCode":       "00",
			"TotalAmount":           "25.00",
			"RefundedAmount":        "10.00",
			"CurrencyCode":          "840",
			"Refunds": []map[string]interface{}{
				{"RefundIdentifier": "r-1", "ExternalIdentifier": "key-1", "TotalAmount": "10.00", "Approved": true},
			},
		})
	})

	details, err := a.Lookup(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusApproved, details.Status)
	assert.Equal(t, "USD", details.Currency)
	assert.True(t, decimal.RequireFromString("15").Equal(details.RemainingRefundable()))

	prior := details.FindRefund("key-1")
	require.NotNil(t, prior)
	assert.Equal(t, "r-1", prior.RefundID)
	assert.Equal(t, domain.RefundStatusSucceeded, prior.Status)
}

// TestLookup_NotFound tests a 404 from the transaction endpoint
func TestLookup_NotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := a.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.False(t, domain.IsRetryable(err))
}

// TestHealthCheck tests healthy and unhealthy probes
func TestHealthCheck(t *testing.T) {
	healthy := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/alive", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	h := healthy.HealthCheck(context.Background())
	assert.True(t, h.Healthy)
	assert.Equal(t, "powertranz", h.Slug)
	require.NotNil(t, h.ResponseTimeMs)

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	h = down.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.ErrorMessage)
}

// TestCircuitBreaker_FailsFast tests that repeated outages stop further network calls
func TestCircuitBreaker_FailsFast(t *testing.T) {
	var hits int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, err := a.Lookup(context.Background(), "tx-1")
		require.ErrorIs(t, err, domain.ErrProviderError)
	}

	_, err := a.Lookup(context.Background(), "tx-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
	assert.Equal(t, resilience.StateOpen, a.breaker.State())
}
