package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
	"github.com/kevin07696/esim-checkout/internal/domain"
)

type fakeSecretsManager struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("secret not found")}
	}
	now := time.Now()
	return &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(v),
		VersionId:    aws.String("v-1"),
		ARN:          aws.String("arn:aws:secretsmanager:us-east-1:123:secret:" + aws.ToString(in.SecretId)),
		CreatedDate:  &now,
	}, nil
}

func TestAWSAdapter_CachesSecrets(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{
		"esim-checkout/providers/stripe": `{"secret_key":"sk_test_1"}`,
	}}
	a := newAWSAdapter(fake, DefaultAWSSecretsManagerConfig("us-east-1"), zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		s, err := a.GetSecret(context.Background(), "esim-checkout/providers/stripe")
		require.NoError(t, err)
		assert.Equal(t, `{"secret_key":"sk_test_1"}`, s.Value)
		assert.Equal(t, "v-1", s.Version)
	}
	assert.Equal(t, 1, fake.calls)
}

func TestAWSAdapter_CacheExpires(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{"p": `{}`}}
	a := newAWSAdapter(fake, DefaultAWSSecretsManagerConfig("us-east-1"), zaptest.NewLogger(t))
	now := time.Now()
	a.cache.now = func() time.Time { return now }

	_, err := a.GetSecret(context.Background(), "p")
	require.NoError(t, err)
	now = now.Add(6 * time.Minute)
	_, err = a.GetSecret(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
}

func TestAWSAdapter_NotFound(t *testing.T) {
	a := newAWSAdapter(&fakeSecretsManager{}, DefaultAWSSecretsManagerConfig("us-east-1"), zaptest.NewLogger(t))
	_, err := a.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestCredentialLoader_BackendOutageIsRetryable(t *testing.T) {
	fake := &fakeSecretsManager{err: errors.New("dial tcp: i/o timeout")}
	loader := NewCredentialLoader(newAWSAdapter(fake, DefaultAWSSecretsManagerConfig("us-east-1"), zaptest.NewLogger(t)),
		"esim-checkout", zaptest.NewLogger(t))

	_, err := loader.Load(context.Background(), "paypal")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.NotErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestParseVaultData(t *testing.T) {
	t.Run("kv v2 fields become a JSON object", func(t *testing.T) {
		s, err := parseVaultData(map[string]interface{}{
			"data":     map[string]interface{}{"client_id": "abc", "client_secret": "xyz", "retries": 3},
			"metadata": map[string]interface{}{"version": json.Number("4"), "created_time": "2026-01-01T00:00:00Z"},
		}, "v2")
		require.NoError(t, err)
		assert.JSONEq(t, `{"client_id":"abc","client_secret":"xyz"}`, s.Value)
		assert.Equal(t, "4", s.Version)
		assert.Equal(t, "2026-01-01T00:00:00Z", s.CreatedAt)
	})

	t.Run("value key is returned verbatim", func(t *testing.T) {
		s, err := parseVaultData(map[string]interface{}{"value": `{"key_id":"rzp"}`}, "v1")
		require.NoError(t, err)
		assert.Equal(t, `{"key_id":"rzp"}`, s.Value)
	})

	t.Run("kv v2 without data", func(t *testing.T) {
		_, err := parseVaultData(map[string]interface{}{"value": "x"}, "v2")
		assert.Error(t, err)
	})

	t.Run("empty entry", func(t *testing.T) {
		_, err := parseVaultData(map[string]interface{}{"data": map[string]interface{}{}}, "v2")
		assert.ErrorIs(t, err, ports.ErrSecretNotFound)
	})
}

func TestLocalSecretManager(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "esim-checkout", "providers"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "esim-checkout", "providers", "paypal.json"),
		[]byte(`{"client_id":"abc","client_secret":"xyz"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "esim-checkout", "providers", "stripe"),
		[]byte(`{"value":"{\"secret_key\":\"sk_test\"}","tags":{"env":"dev"}}`), 0o600))

	m := NewLocalSecretManager(dir, zaptest.NewLogger(t))

	paypal, err := m.GetSecret(context.Background(), "esim-checkout/providers/paypal")
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"abc","client_secret":"xyz"}`, paypal.Value)

	stripe, err := m.GetSecret(context.Background(), "esim-checkout/providers/stripe")
	require.NoError(t, err)
	assert.Equal(t, `{"secret_key":"sk_test"}`, stripe.Value)
	assert.Equal(t, "dev", stripe.Metadata["env"])

	_, err = m.GetSecret(context.Background(), "esim-checkout/providers/razorpay")
	assert.ErrorIs(t, err, ports.ErrSecretNotFound)

	_, err = m.GetSecret(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestCredentialLoader(t *testing.T) {
	static, err := NewStaticSecretManager(map[string]map[string]string{
		"esim-checkout/providers/razorpay": {"key_id": "rzp_test", "key_secret": "s3cret"},
		"esim-checkout/providers/broken":   {},
	})
	require.NoError(t, err)
	loader := NewCredentialLoader(static, "esim-checkout/", zaptest.NewLogger(t))

	creds, err := loader.Load(context.Background(), "razorpay")
	require.NoError(t, err)
	assert.Equal(t, "razorpay", creds.Slug())
	assert.Equal(t, "rzp_test", creds.Get("key_id"))
	assert.NoError(t, creds.Require("key_id", "key_secret"))
	assert.NotContains(t, creds.String(), "s3cret")

	broken, err := loader.Load(context.Background(), "broken")
	require.NoError(t, err)
	err = broken.Require("client_id", "client_secret")
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
	assert.Contains(t, err.Error(), "client_id, client_secret")

	_, err = loader.Load(context.Background(), "stripe")
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestProviderCredentials_AreCopied(t *testing.T) {
	fields := map[string]string{"secret_key": "sk_1"}
	creds := NewProviderCredentials("stripe", fields)
	fields["secret_key"] = "changed"
	assert.Equal(t, "sk_1", creds.Get("secret_key"))
}

func TestVaultConfig_KVPath(t *testing.T) {
	cfg := DefaultVaultConfig("https://vault.internal:8200")
	assert.Equal(t, "secret/data/esim-checkout/providers/stripe", cfg.kvPath("esim-checkout/providers/stripe"))

	cfg.KVVersion = "v1"
	cfg.MountPath = "kv"
	assert.Equal(t, "kv/esim-checkout/providers/stripe", cfg.kvPath("esim-checkout/providers/stripe"))
}
