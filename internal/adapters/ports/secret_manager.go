package ports

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned, possibly wrapped, when the backend has no
// secret at the requested path. Any other error means the backend itself
// could not answer.
var ErrSecretNotFound = errors.New("secret not found")

// Secret is one provider's credential record as stored in a backend
type Secret struct {
	Value     string            // JSON object of credential fields
	Version   string            // backend version identifier
	Metadata  map[string]string // backend tags, never credential values
	CreatedAt string
}

// SecretManagerAdapter is the read-only port for provider credentials.
// Paths look like "esim-checkout/providers/stripe".
type SecretManagerAdapter interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
