// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8087).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// RedisAddr is the session store address (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the session store password; empty for unauthenticated stores.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the logical database index.
	RedisDB int `mapstructure:"REDIS_DB"`
	// RedisPoolSize bounds the connection pool.
	RedisPoolSize int `mapstructure:"REDIS_POOL_SIZE"`

	// DatabaseURL is the Postgres DSN for the audit trail; empty disables persistence.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables the audit stream.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// SessionCap is the max live sessions per user per broker.
	SessionCap int `mapstructure:"SESSION_CAP"`
	// SessionRefreshThreshold is the remaining-lifetime duration below which a refresh is advised (e.g. "30m").
	SessionRefreshThreshold string `mapstructure:"SESSION_REFRESH_THRESHOLD"`
	// SweepInterval is the pause between expiry sweeps in the sweeper (e.g. "1m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// RiskBlockThreshold is the score at and above which requests are rejected (1–100).
	RiskBlockThreshold int `mapstructure:"RISK_BLOCK_THRESHOLD"`
	// RiskFlagThreshold is the score at and above which requests are audited (1–100).
	RiskFlagThreshold int `mapstructure:"RISK_FLAG_THRESHOLD"`
	// PipelineDeadline bounds a full mediation pass including the broker round trip (e.g. "15s").
	PipelineDeadline string `mapstructure:"PIPELINE_DEADLINE"`

	// SecretStoreURL is the Vault-style secret store base URL; empty uses ENCRYPTION_KEY directly.
	SecretStoreURL string `mapstructure:"SECRET_STORE_URL"`
	// SecretStoreToken authenticates against the secret store.
	SecretStoreToken string `mapstructure:"SECRET_STORE_TOKEN"`
	// EncryptionKey is the key material used when no secret store is configured. Required then.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`
	// EncryptionKeyVersion selects the key version new ciphertexts are written under.
	EncryptionKeyVersion int `mapstructure:"ENCRYPTION_KEY_VERSION"`

	// Broker endpoints; empty values fall back to the production APIs.
	// Tests and staging override these.
	ZerodhaBaseURL string `mapstructure:"ZERODHA_BASE_URL"`
	// ZerodhaAPIKey and ZerodhaAPISecret are the app credentials used for token refresh.
	ZerodhaAPIKey    string `mapstructure:"ZERODHA_API_KEY"`
	ZerodhaAPISecret string `mapstructure:"ZERODHA_API_SECRET"`
	UpstoxBaseURL    string `mapstructure:"UPSTOX_BASE_URL"`
	// UpstoxClientID and UpstoxClientSecret are the OAuth app credentials.
	UpstoxClientID     string `mapstructure:"UPSTOX_CLIENT_ID"`
	UpstoxClientSecret string `mapstructure:"UPSTOX_CLIENT_SECRET"`
	UpstoxRedirectURI  string `mapstructure:"UPSTOX_REDIRECT_URI"`
	AngelOneBaseURL    string `mapstructure:"ANGELONE_BASE_URL"`
	AngelOneAPIKey     string `mapstructure:"ANGELONE_API_KEY"`
	DhanBaseURL        string `mapstructure:"DHAN_BASE_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8087")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 32)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "broker-auth-audit")
	v.SetDefault("SESSION_CAP", 3)
	v.SetDefault("SESSION_REFRESH_THRESHOLD", "30m")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("RISK_BLOCK_THRESHOLD", 75)
	v.SetDefault("RISK_FLAG_THRESHOLD", 50)
	v.SetDefault("PIPELINE_DEADLINE", "15s")
	v.SetDefault("SECRET_STORE_URL", "")
	v.SetDefault("SECRET_STORE_TOKEN", "")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("ENCRYPTION_KEY_VERSION", 1)
	v.SetDefault("ZERODHA_BASE_URL", "")
	v.SetDefault("ZERODHA_API_KEY", "")
	v.SetDefault("ZERODHA_API_SECRET", "")
	v.SetDefault("UPSTOX_BASE_URL", "")
	v.SetDefault("UPSTOX_CLIENT_ID", "")
	v.SetDefault("UPSTOX_CLIENT_SECRET", "")
	v.SetDefault("UPSTOX_REDIRECT_URI", "")
	v.SetDefault("ANGELONE_BASE_URL", "")
	v.SetDefault("ANGELONE_API_KEY", "")
	v.SetDefault("DHAN_BASE_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}
	if cfg.SecretStoreURL == "" && cfg.EncryptionKey == "" {
		return nil, errors.New("config: either SECRET_STORE_URL or ENCRYPTION_KEY must be set")
	}
	if cfg.SecretStoreURL != "" && cfg.SecretStoreToken == "" {
		return nil, errors.New("config: SECRET_STORE_TOKEN must be set with SECRET_STORE_URL")
	}
	if cfg.SessionCap <= 0 {
		return nil, errors.New("config: SESSION_CAP must be positive")
	}
	if cfg.EncryptionKeyVersion <= 0 {
		return nil, errors.New("config: ENCRYPTION_KEY_VERSION must be positive")
	}
	if cfg.RiskBlockThreshold < 1 || cfg.RiskBlockThreshold > 100 {
		return nil, errors.New("config: RISK_BLOCK_THRESHOLD must be between 1 and 100")
	}
	if cfg.RiskFlagThreshold < 1 || cfg.RiskFlagThreshold > cfg.RiskBlockThreshold {
		return nil, errors.New("config: RISK_FLAG_THRESHOLD must be between 1 and RISK_BLOCK_THRESHOLD")
	}

	return &cfg, nil
}

// RefreshThreshold parses SessionRefreshThreshold as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) RefreshThreshold() time.Duration {
	d, err := time.ParseDuration(c.SessionRefreshThreshold)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// SweepEvery parses SweepInterval as a time.Duration. Returns 1m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Deadline parses PipelineDeadline as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Deadline() time.Duration {
	d, err := time.ParseDuration(c.PipelineDeadline)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the audit stream is enabled (non-empty list) and to create the emitter.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
