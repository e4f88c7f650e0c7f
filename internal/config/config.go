package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Checkout  CheckoutConfig
	Providers ProvidersConfig
	Secrets   SecretsConfig
	RateLimit RateLimitConfig
	Health    HealthConfig
	Logger    LoggerConfig
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPPort        string
	GRPCPort        string
	AdminPort       string
	ShutdownTimeout time.Duration
	ProviderTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	QueryTimeout   time.Duration
	MigrateOnStart bool
}

// RedisConfig holds the challenge, guest-token and refund-lock store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// CheckoutConfig holds public URLs and token settings
type CheckoutConfig struct {
	// PublicBaseURL is this service's public origin for provider returns
	PublicBaseURL      string
	CheckoutURL        string
	ProcessingURL      string
	GuestOrderURL      string
	AccountOrdersURL   string
	GuestTokenSecret   string
	GuestTokenIssuer   string
	AccountTokenSecret string
	AccountTokenIssuer string
	AdminKey           string
	GuestTokenTTL      time.Duration
	RecheckAttempts    int
}

// ProvidersConfig lists enabled providers and their non-secret settings.
// Credentials come from the secrets backend.
type ProvidersConfig struct {
	Default    string
	Enabled    []string
	Stripe     StripeConfig
	PayPal     PayPalConfig
	Razorpay   RazorpayConfig
	PowerTranz PowerTranzConfig
}

// StripeConfig holds Stripe settings. SecretKey is read by the env backend.
type StripeConfig struct {
	APIURL    string
	SecretKey string
}

// PayPalConfig holds PayPal settings
type PayPalConfig struct {
	BaseURL      string
	BrandName    string
	ClientID     string
	ClientSecret string
}

// RazorpayConfig holds Razorpay settings
type RazorpayConfig struct {
	BaseURL      string
	MerchantName string
	KeyID        string
	KeySecret    string
}

// PowerTranzConfig holds PowerTranz settings
type PowerTranzConfig struct {
	BaseURL         string
	MerchantID      string
	Password        string
	ChallengeWindow time.Duration
}

// SecretsConfig selects where provider credentials are read from
type SecretsConfig struct {
	// Backend is one of env, local, aws or vault
	Backend        string
	Prefix         string
	LocalPath      string
	AWSRegion      string
	AWSEndpoint    string
	VaultAddress   string
	VaultToken     string
	VaultRoleID    string
	VaultSecretID  string
	VaultMountPath string
	CacheTTL       time.Duration
}

// RateLimitConfig bounds public API traffic per client IP
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// HealthConfig schedules provider health sweeps
type HealthConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m"
	Schedule string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

var secretBackends = map[string]bool{"env": true, "local": true, "aws": true, "vault": true}

// Load reads configuration from the environment and an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        valueOrDefault(k.String("HTTP_PORT"), "8080"),
			GRPCPort:        valueOrDefault(k.String("GRPC_PORT"), "9000"),
			AdminPort:       valueOrDefault(k.String("ADMIN_PORT"), "9090"),
			ShutdownTimeout: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "30s"),
			ProviderTimeout: parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
		},
		Database: DatabaseConfig{
			URL:            k.String("DATABASE_URL"),
			MaxConns:       int32(parseInt(k.String("DB_MAX_CONNS"), 10)),
			MinConns:       int32(parseInt(k.String("DB_MIN_CONNS"), 2)),
			QueryTimeout:   parseDuration(k.String("DB_QUERY_TIMEOUT"), "3s"),
			MigrateOnStart: parseBool(valueOrDefault(k.String("DB_MIGRATE_ON_START"), "true")),
		},
		Redis: RedisConfig{
			Addr:     k.String("REDIS_ADDR"),
			Password: k.String("REDIS_PASSWORD"),
			DB:       parseInt(k.String("REDIS_DB"), 0),
			PoolSize: parseInt(k.String("REDIS_POOL_SIZE"), 20),
		},
		Checkout: CheckoutConfig{
			PublicBaseURL:      strings.TrimRight(k.String("PUBLIC_BASE_URL"), "/"),
			CheckoutURL:        k.String("CHECKOUT_URL"),
			ProcessingURL:      k.String("PROCESSING_URL"),
			GuestOrderURL:      k.String("GUEST_ORDER_URL"),
			AccountOrdersURL:   k.String("ACCOUNT_ORDERS_URL"),
			GuestTokenSecret:   k.String("GUEST_TOKEN_SECRET"),
			GuestTokenIssuer:   valueOrDefault(k.String("GUEST_TOKEN_ISSUER"), "esim-checkout"),
			AccountTokenSecret: k.String("ACCOUNT_TOKEN_SECRET"),
			AccountTokenIssuer: k.String("ACCOUNT_TOKEN_ISSUER"),
			AdminKey:           k.String("ADMIN_API_KEY"),
			GuestTokenTTL:      parseDuration(k.String("GUEST_TOKEN_TTL"), "24h"),
			RecheckAttempts:    parseInt(k.String("STATUS_RECHECK_ATTEMPTS"), 4),
		},
		Providers: ProvidersConfig{
			Default: strings.ToLower(valueOrDefault(k.String("DEFAULT_PROVIDER"), "stripe")),
			Enabled: splitAndTrim(strings.ToLower(valueOrDefault(k.String("ENABLED_PROVIDERS"), "stripe,paypal,razorpay,powertranz"))),
			Stripe: StripeConfig{
				APIURL:    k.String("STRIPE_API_URL"),
				SecretKey: k.String("STRIPE_SECRET_KEY"),
			},
			PayPal: PayPalConfig{
				BaseURL:      valueOrDefault(k.String("PAYPAL_BASE_URL"), "https://api-m.sandbox.paypal.com"),
				BrandName:    k.String("PAYPAL_BRAND_NAME"),
				ClientID:     k.String("PAYPAL_CLIENT_ID"),
				ClientSecret: k.String("PAYPAL_CLIENT_SECRET"),
			},
			Razorpay: RazorpayConfig{
				BaseURL:      valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"),
				MerchantName: k.String("RAZORPAY_MERCHANT_NAME"),
				KeyID:        k.String("RAZORPAY_KEY_ID"),
				KeySecret:    k.String("RAZORPAY_KEY_SECRET"),
			},
			PowerTranz: PowerTranzConfig{
				BaseURL:         valueOrDefault(k.String("POWERTRANZ_BASE_URL"), "https://staging.ptranz.com/api"),
				MerchantID:      k.String("POWERTRANZ_ID"),
				Password:        k.String("POWERTRANZ_PASSWORD"),
				ChallengeWindow: parseDuration(k.String("POWERTRANZ_CHALLENGE_WINDOW"), "15m"),
			},
		},
		Secrets: SecretsConfig{
			Backend:        strings.ToLower(valueOrDefault(k.String("SECRETS_BACKEND"), "env")),
			Prefix:         valueOrDefault(k.String("SECRETS_PREFIX"), "esim-checkout"),
			LocalPath:      valueOrDefault(k.String("SECRETS_LOCAL_PATH"), "./secrets"),
			AWSRegion:      valueOrDefault(k.String("AWS_REGION"), "us-east-1"),
			AWSEndpoint:    k.String("AWS_SECRETS_ENDPOINT"),
			VaultAddress:   k.String("VAULT_ADDR"),
			VaultToken:     k.String("VAULT_TOKEN"),
			VaultRoleID:    k.String("VAULT_ROLE_ID"),
			VaultSecretID:  k.String("VAULT_SECRET_ID"),
			VaultMountPath: valueOrDefault(k.String("VAULT_MOUNT_PATH"), "secret"),
			CacheTTL:       parseDuration(k.String("SECRETS_CACHE_TTL"), "5m"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat(k.String("RATE_LIMIT_RPS"), 10),
			Burst:             parseInt(k.String("RATE_LIMIT_BURST"), 20),
		},
		Health: HealthConfig{
			Schedule: valueOrDefault(k.String("HEALTH_SCHEDULE"), "@every 1m"),
		},
		Logger: LoggerConfig{
			Level:       valueOrDefault(k.String("LOG_LEVEL"), "info"),
			Development: parseBool(k.String("LOG_DEVELOPMENT")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if len(c.Checkout.GuestTokenSecret) < 32 {
		errs = append(errs, errors.New("GUEST_TOKEN_SECRET must be at least 32 bytes"))
	}
	if c.Checkout.AccountTokenSecret == "" {
		errs = append(errs, errors.New("ACCOUNT_TOKEN_SECRET is required"))
	}
	if c.Checkout.ProcessingURL == "" {
		errs = append(errs, errors.New("PROCESSING_URL is required"))
	}
	if !secretBackends[c.Secrets.Backend] {
		errs = append(errs, fmt.Errorf("SECRETS_BACKEND %q is not one of env, local, aws, vault", c.Secrets.Backend))
	}
	if c.Secrets.Backend == "vault" && c.Secrets.VaultAddress == "" {
		errs = append(errs, errors.New("VAULT_ADDR is required for the vault backend"))
	}
	if len(c.Providers.Enabled) == 0 {
		errs = append(errs, errors.New("ENABLED_PROVIDERS must name at least one provider"))
	}
	if !c.ProviderEnabled(c.Providers.Default) {
		errs = append(errs, fmt.Errorf("DEFAULT_PROVIDER %q is not enabled", c.Providers.Default))
	}
	return errors.Join(errs...)
}

// ProviderEnabled reports whether slug is in ENABLED_PROVIDERS
func (c *Config) ProviderEnabled(slug string) bool {
	for _, s := range c.Providers.Enabled {
		if s == slug {
			return true
		}
	}
	return false
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests overrides environment variables for the duration of one Load.
// An empty value unsets the variable.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
