package paypal

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kevin07696/esim-checkout/internal/adapters/transport"
	"github.com/kevin07696/esim-checkout/internal/domain"
)

// tokenRefreshMargin renews a token this long before PayPal expires it
const tokenRefreshMargin = 60 * time.Second

// tokenSource caches the OAuth2 client-credentials token
type tokenSource struct {
	expiresAt    time.Time
	client       *resty.Client
	now          func() time.Time
	clientID     string
	clientSecret string
	token        string
	mu           sync.Mutex
}

// Token returns a cached token or fetches a new one
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}
	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = tok.AccessToken
	s.expiresAt = s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshMargin)
	return s.token, nil
}

// Invalidate drops the cached token after PayPal rejected it
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *tokenSource) fetch(ctx context.Context) (*tokenResponse, error) {
	var tok tokenResponse
	var apiErr apiError
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.clientID, s.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tok).
		SetError(&apiErr).
		Post("/v1/oauth2/token")
	if err != nil {
		return nil, transport.Classify(err)
	}
	if resp.IsError() {
		return nil, transport.StatusError(resp.StatusCode(), resp.String())
	}
	if tok.AccessToken == "" {
		return nil, domain.ErrInvalidProviderReply.Withf("paypal returned no access token")
	}
	return &tok, nil
}
