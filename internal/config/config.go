package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	PayOSBaseURL         string        `mapstructure:"PAYOS_BASE_URL"`
	PayOSClientID        string        `mapstructure:"PAYOS_CLIENT_ID"`
	PayOSAPIKey          string        `mapstructure:"PAYOS_API_KEY"`
	PayOSChecksumKey     string        `mapstructure:"PAYOS_CHECKSUM_KEY"`
	PaymentReturnURLBase string        `mapstructure:"PAYMENT_RETURN_URL_BASE"`
	GatewayTimeout       time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	ReconcileStaleAfter time.Duration `mapstructure:"RECONCILE_STALE_AFTER"`
	ReconcileBatchSize  int           `mapstructure:"RECONCILE_BATCH_SIZE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"PAYOS_BASE_URL", "PAYOS_CLIENT_ID", "PAYOS_API_KEY", "PAYOS_CHECKSUM_KEY",
	"PAYMENT_RETURN_URL_BASE", "GATEWAY_TIMEOUT", "REQUEST_TIMEOUT",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "RECONCILE_STALE_AFTER", "RECONCILE_BATCH_SIZE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PAYOS_BASE_URL", "https://api-merchant.payos.vn")
	v.SetDefault("PAYMENT_RETURN_URL_BASE", "http://localhost:8000")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("KAFKA_TOPIC", "clinic.payments")
	v.SetDefault("RECONCILE_STALE_AFTER", "15m")
	v.SetDefault("RECONCILE_BATCH_SIZE", 50)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EventsEnabled reports whether payment events go to Kafka.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks that the configuration is safe to run. Outside development
// the PayOS credentials and a token signing key are required, since requests
// are no longer let through as the dev admin.
func (c *Config) Validate() error {
	if c.IsDev() {
		return nil
	}
	if c.PayOSClientID == "" || c.PayOSAPIKey == "" || c.PayOSChecksumKey == "" {
		return fmt.Errorf("PAYOS_CLIENT_ID, PAYOS_API_KEY and PAYOS_CHECKSUM_KEY are required (current ENV=%q)", c.Env)
	}
	if c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set outside development (current ENV=%q); "+
			"refusing to start without authentication configuration", c.Env)
	}
	if c.IsProduction() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && !strings.HasPrefix(c.PaymentReturnURLBase, "https://") {
		return fmt.Errorf("PAYMENT_RETURN_URL_BASE must use https in production, got %q", c.PaymentReturnURLBase)
	}
	return nil
}
