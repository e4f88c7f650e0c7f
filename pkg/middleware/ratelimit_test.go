package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Shutdown()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/initiate", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("198.51.100.1:1000"))
	assert.Equal(t, http.StatusNoContent, call("198.51.100.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, call("198.51.100.1:1002"), "same host, new port")
	assert.Equal(t, http.StatusNoContent, call("198.51.100.2:1000"))
}

func TestRateLimiter_KeyFuncAndEviction(t *testing.T) {
	rl := NewRateLimiter(0.001, 1,
		WithKeyFunc(func(r *http.Request) string { return r.Header.Get("X-Client") }),
		WithMaxClients(1),
	)
	defer rl.Shutdown()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	// "b" evicts "a", so "a" starts over with a full bucket
	assert.True(t, rl.Allow("b"))
	assert.True(t, rl.Allow("a"))

	rl.Shutdown()
	assert.NotPanics(t, rl.Shutdown)
}
