package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
)

// localSecretManager implements SecretManagerAdapter using local filesystem
// WARNING: This is for development only. Use AWS Secrets Manager or Vault in production.
type localSecretManager struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalSecretManager creates a new local filesystem secret manager. A
// secret at "esim-checkout/providers/stripe" is read from
// {basePath}/esim-checkout/providers/stripe.json, or the same path without
// the extension.
func NewLocalSecretManager(basePath string, logger *zap.Logger) ports.SecretManagerAdapter {
	return &localSecretManager{
		basePath: basePath,
		logger:   logger,
	}
}

// GetSecret retrieves a secret from the local filesystem
func (m *localSecretManager) GetSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	clean := filepath.Clean("/" + secretPath)
	if strings.Contains(secretPath, "..") {
		return nil, fmt.Errorf("invalid secret path: %s", secretPath)
	}

	m.logger.Debug("Reading secret from filesystem", zap.String("path", secretPath))

	var (
		data []byte
		err  error
	)
	for _, candidate := range []string{clean + ".json", clean} {
		data, err = os.ReadFile(filepath.Join(m.basePath, candidate))
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read secret: %w", err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, secretPath)
	}

	// Support the {"value": ...} envelope as well as a bare credential object
	var envelope struct {
		Value     string            `json:"value"`
		Tags      map[string]string `json:"tags"`
		CreatedAt string            `json:"created_at"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Value != "" {
		return &ports.Secret{
			Value:     envelope.Value,
			Version:   "v1",
			Metadata:  envelope.Tags,
			CreatedAt: envelope.CreatedAt,
		}, nil
	}

	return &ports.Secret{
		Value:   strings.TrimSpace(string(data)),
		Version: "v1",
	}, nil
}
