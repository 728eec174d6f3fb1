// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCHealthAddr is the address of the gRPC health server; empty disables it.
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs with in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisURL is a redis:// URL or host:port for the remote cache tier; empty keeps the cache in-process.
	RedisURL      string `mapstructure:"REDIS_URL"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTAccessSecret and JWTRefreshSecret are HS256 secrets; they must differ.
	JWTAccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// PEM-encoded keys (or paths to them) for RS256/ES256. A pair takes precedence over the secret of the same token kind.
	JWTAccessPrivateKey  string `mapstructure:"JWT_ACCESS_PRIVATE_KEY"`
	JWTAccessPublicKey   string `mapstructure:"JWT_ACCESS_PUBLIC_KEY"`
	JWTRefreshPrivateKey string `mapstructure:"JWT_REFRESH_PRIVATE_KEY"`
	JWTRefreshPublicKey  string `mapstructure:"JWT_REFRESH_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// CacheSessionTTL caps how long a session stays cached.
	CacheSessionTTL string `mapstructure:"CACHE_SESSION_TTL"`
	// CacheDefaultTTL applies to cache writes without an explicit ttl.
	CacheDefaultTTL string `mapstructure:"CACHE_DEFAULT_TTL"`
	// CacheTimeout bounds each remote cache call; on timeout the store is used.
	CacheTimeout string `mapstructure:"CACHE_TIMEOUT"`
	// StoreTimeout bounds each session store call; a timeout fails the request.
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// CleanupInterval is how often expired sessions are purged.
	CleanupInterval string `mapstructure:"CLEANUP_INTERVAL"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment. "production" marks cookies Secure and forbids in-memory stores.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OTLPEndpoint is the OTLP gRPC collector; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ACCESS_PRIVATE_KEY", "")
	v.SetDefault("JWT_ACCESS_PUBLIC_KEY", "")
	v.SetDefault("JWT_REFRESH_PRIVATE_KEY", "")
	v.SetDefault("JWT_REFRESH_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "storefront-auth")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("CACHE_SESSION_TTL", "24h")
	v.SetDefault("CACHE_DEFAULT_TTL", "1h")
	v.SetDefault("CACHE_TIMEOUT", "150ms")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("CLEANUP_INTERVAL", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if err := tokenKey("ACCESS", c.JWTAccessSecret, c.JWTAccessPrivateKey, c.JWTAccessPublicKey); err != nil {
		return err
	}
	if err := tokenKey("REFRESH", c.JWTRefreshSecret, c.JWTRefreshPrivateKey, c.JWTRefreshPublicKey); err != nil {
		return err
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	return nil
}

func tokenKey(kind, secret, priv, pub string) error {
	if (priv == "") != (pub == "") {
		return fmt.Errorf("config: JWT_%s_PRIVATE_KEY and JWT_%s_PUBLIC_KEY must be set together", kind, kind)
	}
	if secret == "" && priv == "" {
		return fmt.Errorf("config: JWT_%s_SECRET or a JWT_%s key pair must be set", kind, kind)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 168*time.Hour) }

// SessionCacheCeiling parses CacheSessionTTL. Returns 24h if unset or invalid.
func (c *Config) SessionCacheCeiling() time.Duration { return duration(c.CacheSessionTTL, 24*time.Hour) }

// DefaultCacheTTL parses CacheDefaultTTL. Returns 1h if unset or invalid.
func (c *Config) DefaultCacheTTL() time.Duration { return duration(c.CacheDefaultTTL, time.Hour) }

// RemoteCacheTimeout parses CacheTimeout. Returns 150ms if unset or invalid.
func (c *Config) RemoteCacheTimeout() time.Duration {
	return duration(c.CacheTimeout, 150*time.Millisecond)
}

// SessionStoreTimeout parses StoreTimeout. Returns 5s if unset or invalid.
func (c *Config) SessionStoreTimeout() time.Duration { return duration(c.StoreTimeout, 5*time.Second) }

// CleanupEvery parses CleanupInterval. Returns 24h if unset or invalid.
func (c *Config) CleanupEvery() time.Duration { return duration(c.CleanupInterval, 24*time.Hour) }

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
