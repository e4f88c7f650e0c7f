package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kevin07696/esim-checkout/internal/domain"
)

const guestTokenAudience = "guest-order-access"

// GuestClaims are the claims of a guest access token
type GuestClaims struct {
	jwt.RegisteredClaims
	OrderID string `json:"order_id"`
	Email   string `json:"email,omitempty"`
}

// GuestTokenManager issues and verifies HS256 guest access tokens. The
// token id (jti) is what the single-use store tracks.
type GuestTokenManager struct {
	now    func() time.Time
	issuer string
	secret []byte
	ttl    time.Duration
}

// NewGuestTokenManager creates a manager. The secret must be at least 32 bytes.
func NewGuestTokenManager(secret, issuer string, ttl time.Duration) (*GuestTokenManager, error) {
	if len(secret) < 32 {
		return nil, domain.ErrMissingCredentials.Withf("guest token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GuestTokenManager{
		now:    time.Now,
		issuer: issuer,
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// TTL returns how long issued tokens stay valid
func (m *GuestTokenManager) TTL() time.Duration { return m.ttl }

// Issue mints a token bound to orderID
func (m *GuestTokenManager) Issue(orderID, email string) (*domain.GuestAccessContext, error) {
	if orderID == "" {
		return nil, domain.ErrValidationFailed.Withf("guest token needs an order id")
	}
	now := m.now()
	claims := GuestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   orderID,
			Audience:  jwt.ClaimStrings{guestTokenAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		OrderID: orderID,
		Email:   email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, domain.ErrInternalError.Wrap(fmt.Errorf("sign guest token: %w", err))
	}
	return &domain.GuestAccessContext{
		Token:     signed,
		TokenID:   claims.ID,
		OrderID:   orderID,
		Email:     email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, audience and expiry. Whether the token is still
// unused is the store's concern.
func (m *GuestTokenManager) Verify(token string) (*domain.GuestAccessContext, error) {
	if token == "" {
		return nil, domain.ErrGuestTokenInvalid
	}

	claims := &GuestClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(guestTokenAudience),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrGuestTokenInvalid.Withf("guest access link has expired")
		}
		return nil, domain.ErrGuestTokenInvalid.Wrap(err)
	}
	if !parsed.Valid || claims.ID == "" || claims.OrderID == "" {
		return nil, domain.ErrGuestTokenInvalid
	}

	return &domain.GuestAccessContext{
		Token:     token,
		TokenID:   claims.ID,
		OrderID:   claims.OrderID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
