package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

var ErrMissingBillingConfig = errors.New("missing_billing_config")

type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	DBType string
	DBDSN  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	OTLPEndpoint string

	WebhookRetentionDays int
	GracePeriodDays      int
	SchedulerInterval    time.Duration

	Billing BillingConfig
	Vault   VaultConfig
}

// BillingConfig carries provider credentials. It is injected into the
// reconciler and receipt validator at construction time.
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	AppleSharedSecret   string
	AppleBundleID       string
	PriceIDMonthly      string
	PriceIDYearly       string

	AppleProductionURL string
	AppleSandboxURL    string
}

type VaultConfig struct {
	Provider string
	AESKey   string
}

// Load reads an optional .env file and binds the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_NAME", "subtrack")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("DB_TYPE", "postgres")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("WEBHOOK_RETENTION_DAYS", 90)
	v.SetDefault("GRACE_PERIOD_DAYS", 7)
	v.SetDefault("SCHEDULER_INTERVAL", "5m")
	v.SetDefault("APPLE_PRODUCTION_URL", "https://buy.itunes.apple.com/verifyReceipt")
	v.SetDefault("APPLE_SANDBOX_URL", "https://sandbox.itunes.apple.com/verifyReceipt")
	v.SetDefault("VAULT_PROVIDER", "aes")

	cfg := Config{
		AppName:     v.GetString("APP_NAME"),
		AppVersion:  v.GetString("APP_VERSION"),
		Environment: strings.ToLower(v.GetString("APP_ENV")),
		HTTPAddr:    v.GetString("HTTP_ADDR"),
		NodeID:      v.GetInt64("NODE_ID"),

		DBType: strings.ToLower(v.GetString("DB_TYPE")),
		DBDSN:  v.GetString("DB_DSN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		JWTSecret:    v.GetString("JWT_SECRET"),
		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		WebhookRetentionDays: v.GetInt("WEBHOOK_RETENTION_DAYS"),
		GracePeriodDays:      v.GetInt("GRACE_PERIOD_DAYS"),
		SchedulerInterval:    v.GetDuration("SCHEDULER_INTERVAL"),

		Billing: BillingConfig{
			StripeSecretKey:     strings.TrimSpace(v.GetString("STRIPE_SECRET_KEY")),
			StripeWebhookSecret: strings.TrimSpace(v.GetString("STRIPE_WEBHOOK_SECRET")),
			AppleSharedSecret:   strings.TrimSpace(v.GetString("APPLE_SHARED_SECRET")),
			AppleBundleID:       strings.TrimSpace(v.GetString("APPLE_BUNDLE_ID")),
			PriceIDMonthly:      strings.TrimSpace(v.GetString("STRIPE_PRICE_ID_MONTHLY")),
			PriceIDYearly:       strings.TrimSpace(v.GetString("STRIPE_PRICE_ID_YEARLY")),
			AppleProductionURL:  v.GetString("APPLE_PRODUCTION_URL"),
			AppleSandboxURL:     v.GetString("APPLE_SANDBOX_URL"),
		},
		Vault: VaultConfig{
			Provider: v.GetString("VAULT_PROVIDER"),
			AESKey:   v.GetString("ENCRYPTION_KEY"),
		},
	}

	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = 5 * time.Minute
	}
	return cfg, nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Validate reports every missing billing setting at once. A missing price id
// is a startup error; there is no in-code fallback.
func (b BillingConfig) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"STRIPE_SECRET_KEY", b.StripeSecretKey},
		{"STRIPE_WEBHOOK_SECRET", b.StripeWebhookSecret},
		{"APPLE_SHARED_SECRET", b.AppleSharedSecret},
		{"APPLE_BUNDLE_ID", b.AppleBundleID},
		{"STRIPE_PRICE_ID_MONTHLY", b.PriceIDMonthly},
		{"STRIPE_PRICE_ID_YEARLY", b.PriceIDYearly},
	}

	var missing []string
	for _, item := range required {
		if strings.TrimSpace(item.value) == "" {
			missing = append(missing, item.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingBillingConfig, strings.Join(missing, ", "))
	}
	return nil
}
