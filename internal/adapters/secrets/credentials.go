package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
	"github.com/kevin07696/esim-checkout/internal/domain"
)

// ProviderCredentials is an immutable set of credential fields for one
// provider. It never prints its values.
type ProviderCredentials struct {
	values map[string]string
	slug   string
}

// NewProviderCredentials copies fields into a credential set
func NewProviderCredentials(slug string, fields map[string]string) ProviderCredentials {
	values := make(map[string]string, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return ProviderCredentials{slug: slug, values: values}
}

// Slug returns the provider these credentials belong to
func (c ProviderCredentials) Slug() string { return c.slug }

// Get returns a credential field, or "" when absent
func (c ProviderCredentials) Get(key string) string { return c.values[key] }

// Require fails with ErrMissingCredentials naming every absent key
func (c ProviderCredentials) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(c.values[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return domain.ErrMissingCredentials.Withf("%s credentials missing %s", c.slug, strings.Join(missing, ", "))
	}
	return nil
}

// String redacts the values
func (c ProviderCredentials) String() string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("ProviderCredentials{%s: %s}", c.slug, strings.Join(keys, ","))
}

// CredentialLoader resolves provider credentials through a SecretManagerAdapter
type CredentialLoader struct {
	manager ports.SecretManagerAdapter
	logger  *zap.Logger
	prefix  string
}

// NewCredentialLoader creates a loader reading "{prefix}/providers/{slug}"
func NewCredentialLoader(manager ports.SecretManagerAdapter, prefix string, logger *zap.Logger) *CredentialLoader {
	return &CredentialLoader{manager: manager, prefix: strings.TrimRight(prefix, "/"), logger: logger}
}

// Path returns the secret path for slug
func (l *CredentialLoader) Path(slug string) string {
	return ProviderSecretPath(l.prefix, slug)
}

// ProviderSecretPath is "{prefix}/providers/{slug}"
func ProviderSecretPath(prefix, slug string) string {
	return fmt.Sprintf("%s/providers/%s", strings.TrimRight(prefix, "/"), slug)
}

// Load reads and parses one provider's credentials. The secret value must be
// a JSON object of string fields.
func (l *CredentialLoader) Load(ctx context.Context, slug string) (ProviderCredentials, error) {
	path := l.Path(slug)
	secret, err := l.manager.GetSecret(ctx, path)
	if errors.Is(err, ports.ErrSecretNotFound) {
		l.logger.Warn("Provider has no stored credentials", zap.String("provider", slug), zap.String("path", path))
		return ProviderCredentials{}, domain.ErrMissingCredentials.Withf("no credentials stored for %s", slug).Wrap(err)
	}
	if err != nil {
		// The backend could not answer; the registry retries on next use
		l.logger.Error("Credential backend unavailable", zap.String("provider", slug), zap.Error(err))
		return ProviderCredentials{}, domain.ErrProviderUnavailable.Withf("credential backend unavailable for %s", slug).Wrap(err)
	}

	fields := map[string]string{}
	if err := json.Unmarshal([]byte(secret.Value), &fields); err != nil {
		return ProviderCredentials{}, domain.ErrMissingCredentials.Withf("secret %s is not a JSON object of strings", path).Wrap(err)
	}

	l.logger.Info("Provider credentials loaded",
		zap.String("provider", slug),
		zap.String("version", secret.Version),
		zap.Int("fields", len(fields)),
	)
	return NewProviderCredentials(slug, fields), nil
}
