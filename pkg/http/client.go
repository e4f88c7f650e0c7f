package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPClientConfig holds HTTP client configuration
type HTTPClientConfig struct {
	// Connection pooling
	MaxIdleConns        int           // Total idle connections across all hosts
	MaxIdleConnsPerHost int           // Idle connections per host
	MaxConnsPerHost     int           // Maximum connections per host (including active)
	IdleConnTimeout     time.Duration // How long idle connections stay alive

	// Timeouts
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	KeepAlive time.Duration

	// TLS
	InsecureSkipVerify bool
	MinTLSVersion      uint16
}

// ProviderClientConfig returns the profile used for payment provider APIs.
// Each provider is a single host, so the pool is sized per host.
func ProviderClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		MaxIdleConns:        40,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,

		KeepAlive: 60 * time.Second,

		InsecureSkipVerify: false,
		MinTLSVersion:      tls.VersionTLS12,
	}
}

// NewHTTPClient creates an HTTP client with the given configuration
func NewHTTPClient(cfg *HTTPClientConfig, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	transport := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,

		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,

		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         cfg.MinTLSVersion,
		},

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewRestyClient builds a JSON client for one provider base URL. Automatic
// retries stay disabled: payment calls are retried by callers with a fresh
// transaction identifier, never transparently.
func NewRestyClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *resty.Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(ProviderClientConfig(), 10*time.Second)
	}
	client := resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger.Sugar()})

	client.OnError(func(req *resty.Request, err error) {
		logger.Debug("Provider request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err),
		)
	})
	return client
}

// restyLogger routes resty's internal logging through zap.
type restyLogger struct {
	s *zap.SugaredLogger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
