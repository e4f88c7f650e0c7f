package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
)

// AWSSecretsManagerConfig configures the AWS Secrets Manager backend
type AWSSecretsManagerConfig struct {
	Region  string
	Profile string // shared config profile, local development only
	// Endpoint overrides the service URL, e.g. LocalStack
	Endpoint    string
	CacheTTL    time.Duration
	EnableCache bool
}

// DefaultAWSSecretsManagerConfig caches credentials for five minutes
func DefaultAWSSecretsManagerConfig(region string) *AWSSecretsManagerConfig {
	return &AWSSecretsManagerConfig{
		Region:      region,
		CacheTTL:    5 * time.Minute,
		EnableCache: true,
	}
}

type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// awsSecretsManagerAdapter reads one secret per provider. The secret string
// is the provider's credential object.
type awsSecretsManagerAdapter struct {
	client secretValueGetter
	logger *zap.Logger
	cache  *secretCache
}

// NewAWSSecretsManagerAdapter loads the default AWS credential chain and
// returns a provider credential backend
func NewAWSSecretsManagerAdapter(ctx context.Context, cfg *AWSSecretsManagerConfig, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	logger.Info("Provider credentials backed by AWS Secrets Manager",
		zap.String("region", cfg.Region),
		zap.Bool("cache_enabled", cfg.EnableCache),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)
	return newAWSAdapter(secretsmanager.NewFromConfig(awsCfg, clientOpts...), cfg, logger), nil
}

func newAWSAdapter(client secretValueGetter, cfg *AWSSecretsManagerConfig, logger *zap.Logger) *awsSecretsManagerAdapter {
	return &awsSecretsManagerAdapter{
		client: client,
		logger: logger,
		cache:  newSecretCache(cfg.EnableCache, cfg.CacheTTL),
	}
}

// GetSecret implements ports.SecretManagerAdapter
func (a *awsSecretsManagerAdapter) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := a.cache.get(path); cached != nil {
		return cached, nil
	}

	start := time.Now()
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(path)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ports.ErrSecretNotFound, path)
		}
		a.logger.Error("AWS Secrets Manager request failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("get secret %s: %w", path, err)
	}
	if out.SecretString == nil {
		// Binary secrets are never written for provider credentials
		return nil, fmt.Errorf("%w: %s has no string value", ports.ErrSecretNotFound, path)
	}

	secret := &ports.Secret{
		Value:    aws.ToString(out.SecretString),
		Version:  aws.ToString(out.VersionId),
		Metadata: map[string]string{},
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = out.CreatedDate.UTC().Format(time.RFC3339)
	}
	if out.ARN != nil {
		secret.Metadata["arn"] = *out.ARN
	}

	a.logger.Debug("Provider secret fetched", zap.String("path", path), zap.Duration("elapsed", time.Since(start)))
	a.cache.set(path, secret)
	return secret, nil
}
