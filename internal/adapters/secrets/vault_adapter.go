package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
)

// VaultConfig configures the HashiCorp Vault KV backend
type VaultConfig struct {
	Address    string
	AuthMethod string // "token" or "approle"
	Token      string
	RoleID     string
	SecretID   string
	Namespace  string // Vault Enterprise only
	MountPath  string // KV mount, default "secret"
	KVVersion  string // "v1" or "v2"

	CacheTTL      time.Duration
	EnableCache   bool
	TLSSkipVerify bool
}

// DefaultVaultConfig uses token auth against a KV v2 mount named "secret"
func DefaultVaultConfig(address string) *VaultConfig {
	return &VaultConfig{
		Address:     address,
		AuthMethod:  "token",
		MountPath:   "secret",
		KVVersion:   "v2",
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

// kvPath maps a credential path onto the mount. KV v2 reads go through the
// data/ prefix.
func (c *VaultConfig) kvPath(secretPath string) string {
	if c.KVVersion == "v2" {
		return path.Join(c.MountPath, "data", secretPath)
	}
	return path.Join(c.MountPath, secretPath)
}

type vaultAdapter struct {
	client *vault.Client
	config *VaultConfig
	logger *zap.Logger
	cache  *secretCache
}

// NewVaultAdapter logs in to Vault and returns a provider credential backend
func NewVaultAdapter(ctx context.Context, cfg *VaultConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address
	if cfg.TLSSkipVerify {
		if err := vcfg.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("configure vault TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	token, err := vaultLogin(ctx, client, cfg)
	if err != nil {
		return nil, fmt.Errorf("vault login: %w", err)
	}
	client.SetToken(token)

	logger.Info("Provider credentials backed by Vault",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", cfg.MountPath),
		zap.String("kv_version", cfg.KVVersion),
	)
	return &vaultAdapter{
		client: client,
		config: cfg,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}, nil
}

func vaultLogin(ctx context.Context, client *vault.Client, cfg *VaultConfig) (string, error) {
	switch cfg.AuthMethod {
	case "token":
		if cfg.Token == "" {
			return "", errors.New("VAULT_TOKEN is required for token auth")
		}
		return cfg.Token, nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return "", errors.New("role_id and secret_id are required for approle auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return "", err
		}
		if resp == nil || resp.Auth == nil {
			return "", errors.New("approle login returned no token")
		}
		return resp.Auth.ClientToken, nil

	default:
		return "", fmt.Errorf("unsupported auth method %q", cfg.AuthMethod)
	}
}

// GetSecret implements ports.SecretManagerAdapter. Entries with a "value"
// key return it verbatim; otherwise the string fields become one JSON object.
func (a *vaultAdapter) GetSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	if cached := a.cache.get(secretPath); cached != nil {
		return cached, nil
	}

	start := time.Now()
	raw, err := a.client.Logical().ReadWithContext(ctx, a.config.kvPath(secretPath))
	if err != nil {
		a.logger.Error("Vault read failed", zap.String("path", secretPath), zap.Error(err))
		return nil, fmt.Errorf("read %s from vault: %w", secretPath, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, secretPath)
	}

	secret, err := parseVaultData(raw.Data, a.config.KVVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", secretPath, err)
	}

	a.logger.Debug("Provider secret fetched", zap.String("path", secretPath), zap.Duration("elapsed", time.Since(start)))
	a.cache.set(secretPath, secret)
	return secret, nil
}

func parseVaultData(raw map[string]interface{}, kvVersion string) (*ports.Secret, error) {
	secret := &ports.Secret{Version: "1", Metadata: map[string]string{}}

	data := raw
	if kvVersion == "v2" {
		inner, ok := raw["data"].(map[string]interface{})
		if !ok {
			// A deleted KV v2 version keeps its metadata but has nil data
			return nil, fmt.Errorf("%w: no data in kv v2 entry", ports.ErrSecretNotFound)
		}
		data = inner
		if md, ok := raw["metadata"].(map[string]interface{}); ok {
			if v, ok := md["version"].(json.Number); ok {
				secret.Version = v.String()
			}
			if ct, ok := md["created_time"].(string); ok {
				secret.CreatedAt = ct
			}
		}
	}

	fields := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	if v := fields["value"]; v != "" {
		secret.Value = v
		return secret, nil
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: entry has no string fields", ports.ErrSecretNotFound)
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	secret.Value = string(encoded)
	return secret, nil
}
