package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDomainError_IsMatchesByCode tests that wrapped copies still match their sentinel
func TestDomainError_IsMatchesByCode(t *testing.T) {
	wrapped := ErrProviderTimeout.Wrap(errors.New("context deadline exceeded"))
	outer := fmt.Errorf("confirm: %w", wrapped)

	assert.True(t, errors.Is(outer, ErrProviderTimeout))
	assert.False(t, errors.Is(outer, ErrProviderUnavailable))
	assert.Equal(t, ErrorCodeGatewayTimeout, GetErrorCode(outer))
	assert.True(t, IsRetryable(outer))
	assert.True(t, IsTransientError(outer))
}

// TestDomainError_WrapDoesNotMutateSentinel tests sentinel immutability
func TestDomainError_WrapDoesNotMutateSentinel(t *testing.T) {
	_ = ErrUnsupportedCurrency.Withf("currency %q is not supported", "XYZ")

	assert.Equal(t, "currency is not supported", ErrUnsupportedCurrency.Message)
	assert.Nil(t, ErrUnsupportedCurrency.Err)
}

// TestDomainError_Taxonomy tests the kind and retry flag of each bucket
func TestDomainError_Taxonomy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"unknown_provider", ErrUnknownProvider, KindConfiguration, false},
		{"unsupported_currency", ErrUnsupportedCurrency, KindConfiguration, false},
		{"invalid_amount", ErrInvalidAmount, KindValidation, false},
		{"declined", ErrPaymentDeclined, KindDecline, false},
		{"timeout", ErrProviderTimeout, KindTransient, true},
		{"challenge_expired", ErrChallengeExpired, KindChallengeToken, false},
		{"challenge_consumed", ErrChallengeConsumed, KindChallengeToken, false},
		{"already_refunded", ErrAlreadyRefunded, KindRefund, false},
		{"not_captured", ErrNotYetCaptured, KindRefund, false},
		{"guest_consumed", ErrGuestTokenConsumed, KindGuestToken, false},
		{"plain_error", errors.New("boom"), KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

// TestUserMessage_HidesConfigurationDetail tests that config errors stay generic
func TestUserMessage_HidesConfigurationDetail(t *testing.T) {
	err := ErrMissingCredentials.Withf("STRIPE_SECRET_KEY is empty")

	msg := UserMessage(err)

	assert.NotContains(t, msg, "STRIPE_SECRET_KEY")
	assert.Equal(t, "We could not process your payment right now.", msg)
}

// TestUserMessage_DistinguishesChallengeErrors tests consumed vs expired wording
func TestUserMessage_DistinguishesChallengeErrors(t *testing.T) {
	require.NotEqual(t, UserMessage(ErrChallengeConsumed), UserMessage(ErrChallengeExpired))
	assert.Contains(t, UserMessage(ErrChallengeConsumed), "already been processed")
	assert.Contains(t, UserMessage(ErrProviderTimeout), "try again")
}
