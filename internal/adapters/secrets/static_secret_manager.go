package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
)

// StaticSecretManager serves credentials that were already present in the
// process configuration (the "env" backend).
type StaticSecretManager struct {
	values map[string]string
}

// NewStaticSecretManager builds a manager from path -> credential fields
func NewStaticSecretManager(fields map[string]map[string]string) (*StaticSecretManager, error) {
	values := make(map[string]string, len(fields))
	for path, f := range fields {
		encoded, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encode static secret %s: %w", path, err)
		}
		values[path] = string(encoded)
	}
	return &StaticSecretManager{values: values}, nil
}

// GetSecret implements ports.SecretManagerAdapter
func (m *StaticSecretManager) GetSecret(_ context.Context, path string) (*ports.Secret, error) {
	v, ok := m.values[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
	}
	return &ports.Secret{Value: v, Version: "static"}, nil
}
