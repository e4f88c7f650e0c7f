package auth

import (
	"context"
)

// Context keys for authentication data
type contextKey string

const (
	AccountIDKey contextKey = "account_id"
	ClientIPKey  contextKey = "client_ip"
)

// WithAccount returns a context carrying an authenticated account id
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// AccountID returns the authenticated account, or "" for anonymous callers
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(AccountIDKey).(string)
	return id
}

// WithClientIP records the caller's address for logging
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// ClientIP returns the caller's address, if known
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}
