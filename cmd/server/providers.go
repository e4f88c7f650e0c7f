package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/paypal"
	"github.com/kevin07696/esim-checkout/internal/adapters/ports"
	"github.com/kevin07696/esim-checkout/internal/adapters/powertranz"
	"github.com/kevin07696/esim-checkout/internal/adapters/razorpay"
	"github.com/kevin07696/esim-checkout/internal/adapters/secrets"
	"github.com/kevin07696/esim-checkout/internal/adapters/stripe"
	"github.com/kevin07696/esim-checkout/internal/config"
	"github.com/kevin07696/esim-checkout/internal/domain"
	domainports "github.com/kevin07696/esim-checkout/internal/domain/ports"
	"github.com/kevin07696/esim-checkout/internal/services/gateway"
	"github.com/kevin07696/esim-checkout/pkg/resilience"
)

const credentialLoadTimeout = 10 * time.Second

// Credential field names inside each provider's secret
const (
	fieldStripeSecretKey    = "secret_key"
	fieldPayPalClientID     = "client_id"
	fieldPayPalClientSecret = "client_secret"
	fieldRazorpayKeyID      = "key_id"
	fieldRazorpayKeySecret  = "key_secret"
	fieldPowerTranzID       = "merchant_id"
	fieldPowerTranzPassword = "password"
)

// initSecretManager selects the credential backend:
//   - env: credentials from the process environment (development)
//   - local: JSON files under SECRETS_LOCAL_PATH
//   - aws: AWS Secrets Manager
//   - vault: HashiCorp Vault KV v2
func initSecretManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.SecretManagerAdapter, error) {
	sc := cfg.Secrets
	switch sc.Backend {
	case "local":
		logger.Warn("Using local filesystem secrets - NOT for production use", zap.String("path", sc.LocalPath))
		return secrets.NewLocalSecretManager(sc.LocalPath, logger), nil

	case "aws":
		awsCfg := secrets.DefaultAWSSecretsManagerConfig(sc.AWSRegion)
		awsCfg.Endpoint = sc.AWSEndpoint
		awsCfg.CacheTTL = sc.CacheTTL
		return secrets.NewAWSSecretsManagerAdapter(ctx, awsCfg, logger)

	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(sc.VaultAddress)
		vaultCfg.MountPath = sc.VaultMountPath
		vaultCfg.CacheTTL = sc.CacheTTL
		vaultCfg.Token = sc.VaultToken
		if sc.VaultRoleID != "" {
			vaultCfg.AuthMethod = "approle"
			vaultCfg.RoleID = sc.VaultRoleID
			vaultCfg.SecretID = sc.VaultSecretID
		}
		return secrets.NewVaultAdapter(ctx, vaultCfg, logger)

	default:
		logger.Warn("Provider credentials read from environment", zap.String("secrets_backend", "env"))
		p := cfg.Providers
		return secrets.NewStaticSecretManager(map[string]map[string]string{
			secrets.ProviderSecretPath(sc.Prefix, domain.ProviderStripe): {
				fieldStripeSecretKey: p.Stripe.SecretKey,
			},
			secrets.ProviderSecretPath(sc.Prefix, domain.ProviderPayPal): {
				fieldPayPalClientID:     p.PayPal.ClientID,
				fieldPayPalClientSecret: p.PayPal.ClientSecret,
			},
			secrets.ProviderSecretPath(sc.Prefix, domain.ProviderRazorpay): {
				fieldRazorpayKeyID:     p.Razorpay.KeyID,
				fieldRazorpayKeySecret: p.Razorpay.KeySecret,
			},
			secrets.ProviderSecretPath(sc.Prefix, domain.ProviderPowerTranz): {
				fieldPowerTranzID:       p.PowerTranz.MerchantID,
				fieldPowerTranzPassword: p.PowerTranz.Password,
			},
		})
	}
}

// registerProviders adds a lazy factory per enabled provider. Credentials are
// read on first use and the adapter is memoized by the registry.
func registerProviders(
	registry *gateway.Registry,
	cfg *config.Config,
	loader *secrets.CredentialLoader,
	timeouts *resilience.TimeoutConfig,
	logger *zap.Logger,
) error {
	factories := map[string]func(secrets.ProviderCredentials) (domainports.ProviderAdapter, error){
		domain.ProviderStripe: func(c secrets.ProviderCredentials) (domainports.ProviderAdapter, error) {
			if err := c.Require(fieldStripeSecretKey); err != nil {
				return nil, err
			}
			return stripe.NewAdapter(stripe.Config{
				SecretKey: c.Get(fieldStripeSecretKey),
				APIURL:    cfg.Providers.Stripe.APIURL,
			}, nil, timeouts, logger)
		},
		domain.ProviderPayPal: func(c secrets.ProviderCredentials) (domainports.ProviderAdapter, error) {
			if err := c.Require(fieldPayPalClientID, fieldPayPalClientSecret); err != nil {
				return nil, err
			}
			return paypal.NewAdapter(paypal.Config{
				BaseURL:      cfg.Providers.PayPal.BaseURL,
				ClientID:     c.Get(fieldPayPalClientID),
				ClientSecret: c.Get(fieldPayPalClientSecret),
				BrandName:    cfg.Providers.PayPal.BrandName,
			}, nil, timeouts, logger)
		},
		domain.ProviderRazorpay: func(c secrets.ProviderCredentials) (domainports.ProviderAdapter, error) {
			if err := c.Require(fieldRazorpayKeyID, fieldRazorpayKeySecret); err != nil {
				return nil, err
			}
			return razorpay.NewAdapter(razorpay.Config{
				BaseURL:      cfg.Providers.Razorpay.BaseURL,
				KeyID:        c.Get(fieldRazorpayKeyID),
				KeySecret:    c.Get(fieldRazorpayKeySecret),
				MerchantName: cfg.Providers.Razorpay.MerchantName,
			}, nil, timeouts, logger)
		},
		domain.ProviderPowerTranz: func(c secrets.ProviderCredentials) (domainports.ProviderAdapter, error) {
			if err := c.Require(fieldPowerTranzID, fieldPowerTranzPassword); err != nil {
				return nil, err
			}
			return powertranz.NewAdapter(powertranz.Config{
				BaseURL:             cfg.Providers.PowerTranz.BaseURL,
				PowerTranzID:        c.Get(fieldPowerTranzID),
				Password:            c.Get(fieldPowerTranzPassword),
				MerchantResponseURL: cfg.Checkout.PublicBaseURL + "/api/v1/payments/powertranz/callback",
				ChallengeWindow:     cfg.Providers.PowerTranz.ChallengeWindow,
			}, nil, timeouts, logger)
		},
	}

	for _, slug := range cfg.Providers.Enabled {
		build, ok := factories[slug]
		if !ok {
			return fmt.Errorf("ENABLED_PROVIDERS names unknown provider %q", slug)
		}
		slug := slug
		registry.Register(slug, func() (domainports.ProviderAdapter, error) {
			ctx, cancel := context.WithTimeout(context.Background(), credentialLoadTimeout)
			defer cancel()

			creds, err := loader.Load(ctx, slug)
			if err != nil {
				return nil, err
			}
			return build(creds)
		})
	}
	return nil
}
