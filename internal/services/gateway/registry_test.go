package gateway_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/esim-checkout/internal/domain"
	"github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/internal/services/gateway"
	"github.com/kevin07696/esim-checkout/internal/testutil/mocks"
)

func countingFactory(slug string, calls *int32) gateway.Factory {
	return func() (ports.ProviderAdapter, error) {
		atomic.AddInt32(calls, 1)
		return mocks.NewMockProvider(slug), nil
	}
}

func TestRegistry_GetMemoizesPerSlug(t *testing.T) {
	var calls int32
	r := gateway.NewRegistry(domain.ProviderStripe, mocks.NewMockLogger())
	r.Register(domain.ProviderStripe, countingFactory(domain.ProviderStripe, &calls))

	var wg sync.WaitGroup
	results := make([]ports.ProviderAdapter, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Get("stripe")
			assert.NoError(t, err)
			results[i] = a
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, a := range results {
		assert.Same(t, results[0], a)
	}
}

func TestRegistry_NormalizesSlug(t *testing.T) {
	var calls int32
	r := gateway.NewRegistry(domain.ProviderStripe, mocks.NewMockLogger())
	r.Register("PayPal", countingFactory(domain.ProviderPayPal, &calls))

	a, err := r.Get("  paypal ")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPayPal, a.Slug())
}

func TestRegistry_UnknownAndMissing(t *testing.T) {
	r := gateway.NewRegistry(domain.ProviderStripe, mocks.NewMockLogger())

	_, err := r.Get("venmo")
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
	assert.True(t, domain.IsConfigurationError(err))

	_, err = r.Get("")
	assert.ErrorIs(t, err, domain.ErrMissingProvider)
}

func TestRegistry_DefaultAndResolve(t *testing.T) {
	var stripeCalls, paypalCalls int32
	r := gateway.NewRegistry(domain.ProviderStripe, mocks.NewMockLogger())
	r.Register(domain.ProviderStripe, countingFactory(domain.ProviderStripe, &stripeCalls))
	r.Register(domain.ProviderPayPal, countingFactory(domain.ProviderPayPal, &paypalCalls))

	d, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, d.Slug())

	a, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, a.Slug())

	a, err = r.Resolve(domain.ProviderPayPal)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPayPal, a.Slug())
}

func TestRegistry_FactoryFailureIsReportedAtResolution(t *testing.T) {
	var calls int32
	logger := mocks.NewMockLogger()
	r := gateway.NewRegistry(domain.ProviderStripe, logger)
	r.Register(domain.ProviderStripe, countingFactory(domain.ProviderStripe, &calls))
	r.Register(domain.ProviderRazorpay, func() (ports.ProviderAdapter, error) {
		return nil, domain.ErrMissingCredentials.Withf("razorpay key_id missing")
	})

	_, err := r.Get(domain.ProviderRazorpay)
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
	assert.True(t, logger.HasMessage("Provider adapter unavailable"))

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, domain.ProviderStripe, all[0].Slug())
	assert.Equal(t, []string{domain.ProviderRazorpay, domain.ProviderStripe}, r.Slugs())
}

func TestRegistry_RetryableFactoryFailureIsNotMemoized(t *testing.T) {
	var calls int32
	r := gateway.NewRegistry(domain.ProviderPayPal, mocks.NewMockLogger())
	r.Register(domain.ProviderPayPal, func() (ports.ProviderAdapter, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, domain.ErrProviderUnavailable.Withf("credential backend unreachable")
		}
		return mocks.NewMockProvider(domain.ProviderPayPal), nil
	})

	_, err := r.Get(domain.ProviderPayPal)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	a, err := r.Get(domain.ProviderPayPal)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPayPal, a.Slug())

	_, err = r.Get(domain.ProviderPayPal)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRegistry_ConfigurationFailureIsMemoized(t *testing.T) {
	var calls int32
	r := gateway.NewRegistry(domain.ProviderStripe, mocks.NewMockLogger())
	r.Register(domain.ProviderStripe, func() (ports.ProviderAdapter, error) {
		atomic.AddInt32(&calls, 1)
		return nil, domain.ErrMissingCredentials
	})

	for i := 0; i < 3; i++ {
		_, err := r.Get(domain.ProviderStripe)
		assert.ErrorIs(t, err, domain.ErrMissingCredentials)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
