package middleware

import (
	"net/http"
)

const (
	apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"
	devCSP = "default-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'"
	hsts   = "max-age=31536000; includeSubDomains; preload"
)

// SecurityHeaders sets response headers for a JSON payment API. Provider
// callbacks answer with redirects only, so nothing served here needs to be
// framed or to post forms.
type SecurityHeaders struct {
	isDevelopment bool
}

// NewSecurityHeaders creates the middleware. Development mode drops HSTS so
// plain-http local setups keep working.
func NewSecurityHeaders(isDevelopment bool) *SecurityHeaders {
	return &SecurityHeaders{isDevelopment: isDevelopment}
}

// Middleware wraps next with the security headers
func (sh *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")

		if sh.isDevelopment {
			h.Set("Content-Security-Policy", devCSP)
		} else {
			h.Set("Content-Security-Policy", apiCSP)
			h.Set("Strict-Transport-Security", hsts)
		}

		// Handlers may relax this for cacheable responses
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
