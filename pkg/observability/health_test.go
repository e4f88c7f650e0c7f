package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	checker := NewHealthChecker().
		AddCheck("database", func(context.Context) error { return nil }).
		AddCheck("redis", nil)

	status := checker.Check(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, "healthy", status.Checks["database"])
	assert.Equal(t, "not configured", status.Checks["redis"])

	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	status = checker.Check(context.Background())
	assert.False(t, status.Healthy())
	assert.Equal(t, "unhealthy: connection refused", status.Checks["redis"])
}

func TestAdminMux(t *testing.T) {
	failing := false
	checker := NewHealthChecker().AddCheck("database", func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})
	mux := NewAdminMux(AdminServerConfig{
		HealthChecker: checker,
		Extra: map[string]http.Handler{
			"/health/providers": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			}),
		},
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/ready").Code)
	assert.Equal(t, http.StatusTeapot, get("/health/providers").Code)

	metrics := get("/metrics")
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")

	failing = true
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)
}
