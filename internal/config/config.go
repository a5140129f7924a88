package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	AuthMode        string        `mapstructure:"AUTH_MODE"`
	StoreBackend    string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	StatsCacheTTL   time.Duration `mapstructure:"STATS_CACHE_TTL"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant   string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BillingTimezone string        `mapstructure:"BILLING_TIMEZONE"`
	Currency        string        `mapstructure:"CURRENCY"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "STATS_CACHE_TTL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"BILLING_TIMEZONE", "CURRENCY",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("STORE_BACKEND", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STATS_CACHE_TTL", "5m")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BILLING_TIMEZONE", "UTC")
	v.SetDefault("CURRENCY", "INR")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	if cfg.StoreBackend != StoreMemory && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get "development" (every request is admin), a configured
// signing key gets "shared" (HS256) and everything else "external" (JWKS).
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthSigningKey != "" {
		return "shared"
	}
	return "external"
}

// Location resolves BILLING_TIMEZONE. Calendar-day statistics and date
// filters are evaluated in this zone.
func (c *Config) Location() (*time.Location, error) {
	name := c.BillingTimezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("BILLING_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// Validate refuses configurations that would run without authentication
// outside development or that the ledger cannot operate under.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed when ENV=production")
		}
	case "external":
		if c.AuthIssuer == "" || c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER and AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (ENV=%q)", c.Env)
		}
	case "shared":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"shared\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"shared\", or \"external\", got %q", mode)
	}

	switch c.StoreBackend {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_BACKEND \"memory\" is not allowed when ENV=production")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreBackend)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if len(c.Currency) != 3 || strings.IndexFunc(c.Currency, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return fmt.Errorf("CURRENCY must be a 3-letter ISO 4217 code, got %q", c.Currency)
	}
	if c.StatsCacheTTL < 0 {
		return fmt.Errorf("STATS_CACHE_TTL must not be negative")
	}
	return nil
}
