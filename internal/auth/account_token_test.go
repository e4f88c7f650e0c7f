package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func signAccountToken(t *testing.T, secret, accountID string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAccountVerifier_Verify(t *testing.T) {
	v := NewAccountVerifier(testSecret, "")

	accountID, err := v.Verify(signAccountToken(t, testSecret, "acct-1", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "acct-1", accountID)

	_, err = v.Verify(signAccountToken(t, testSecret, "acct-1", -time.Minute))
	assert.Error(t, err)

	_, err = v.Verify(signAccountToken(t, "wrong-secret-wrong-secret-wrong!", "acct-1", time.Hour))
	assert.Error(t, err)

	_, err = v.Verify(signAccountToken(t, testSecret, "", time.Hour))
	assert.Error(t, err)
}

func TestAccountMiddleware(t *testing.T) {
	v := NewAccountVerifier(testSecret, "")
	var seenAccount, seenIP string
	handler := AccountMiddleware(v, zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAccount = AccountID(r.Context())
		seenIP = ClientIP(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous", func(t *testing.T) {
		seenAccount = "unset"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.5:41000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, seenAccount)
		assert.Equal(t, "10.0.0.5", seenIP)
	})

	t.Run("signed in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signAccountToken(t, testSecret, "acct-9", time.Hour))
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "acct-9", seenAccount)
		assert.Equal(t, "203.0.113.7", seenIP)
	})

	t.Run("session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signAccountToken(t, testSecret, "acct-3", time.Hour)})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "acct-3", seenAccount)
	})

	t.Run("stale cookie is anonymous", func(t *testing.T) {
		seenAccount = "unset"
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signAccountToken(t, testSecret, "acct-3", -time.Minute)})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, seenAccount)
	})

	t.Run("bad session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
