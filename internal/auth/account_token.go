package auth

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionCookieName is the storefront session cookie, read when a request
// has no Authorization header.
const SessionCookieName = "esim_session"

// AccountClaims are the storefront session claims; Subject is the account id
type AccountClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// AccountVerifier validates storefront session tokens (HS256, shared secret)
type AccountVerifier struct {
	now    func() time.Time
	issuer string
	secret []byte
}

// NewAccountVerifier creates a verifier. An empty issuer accepts any issuer.
func NewAccountVerifier(secret, issuer string) *AccountVerifier {
	return &AccountVerifier{now: time.Now, issuer: issuer, secret: []byte(secret)}
}

// Verify returns the account id carried by a valid session token
func (v *AccountVerifier) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &AccountClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// AccountMiddleware attaches the account from an "Authorization: Bearer"
// header to the request context. Requests without the header pass through
// anonymously; a header that fails verification is rejected with 401.
func AccountMiddleware(verifier *AccountVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithClientIP(r.Context(), clientIP(r))

			header := r.Header.Get("Authorization")
			if verifier == nil {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if header == "" {
				// Provider returns are top-level navigations and only carry the cookie.
				// A stale cookie falls back to an anonymous request.
				if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
					if accountID, err := verifier.Verify(c.Value); err == nil {
						ctx = WithAccount(ctx, accountID)
					}
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, `{"success":false,"message":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}
			accountID, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				logger.Debug("Rejected account session", zap.Error(err))
				http.Error(w, `{"success":false,"message":"session expired, sign in again"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(ctx, accountID)))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
