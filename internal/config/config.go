package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// APIPrefix is the path every API route is mounted under.
	APIPrefix string `mapstructure:"API_PREFIX"`

	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string `mapstructure:"MIGRATIONS_DIR"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisNamespace string `mapstructure:"REDIS_NAMESPACE"`

	AuthMode       string        `mapstructure:"AUTH_MODE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthTokenTTL   time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	PricingPolicy           string        `mapstructure:"PRICING_POLICY"`
	PricingMin              string        `mapstructure:"PRICING_MIN"`
	PricingMax              string        `mapstructure:"PRICING_MAX"`
	AppointmentStatusPolicy string        `mapstructure:"APPOINTMENT_STATUS_POLICY"`
	ReconcileInterval       time.Duration `mapstructure:"RECONCILE_INTERVAL"`

	HTTPReadTimeout  time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "API_PREFIX",
	"STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "REDIS_NAMESPACE",
	"AUTH_MODE", "AUTH_SIGNING_KEY", "AUTH_TOKEN_TTL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT",
	"PRICING_POLICY", "PRICING_MIN", "PRICING_MAX", "APPOINTMENT_STATUS_POLICY", "RECONCILE_INTERVAL",
	"HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "REQUEST_TIMEOUT",
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, is loaded first; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_PREFIX", "/make-server-b415d497")
	v.SetDefault("STORE_BACKEND", "") // inferred: DATABASE_URL -> postgres, REDIS_URL -> redis, else memory
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_NAMESPACE", "telecare")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV and AUTH_ISSUER
	v.SetDefault("AUTH_TOKEN_TTL", 24*time.Hour)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("PRICING_POLICY", "random")
	v.SetDefault("PRICING_MIN", "5")
	v.SetDefault("PRICING_MAX", "10")
	v.SetDefault("APPOINTMENT_STATUS_POLICY", "doctor-only")
	v.SetDefault("RECONCILE_INTERVAL", time.Duration(0))
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 20*time.Second)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "/" {
		cfg.APIPrefix = ""
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - AUTH_ISSUER or AUTH_JWKS_URL set → "external"
//   - ENV=development                  → "development" (token is the user id)
//   - Otherwise                        → "standalone" (built-in accounts)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.AuthIssuer != "" || c.AuthJWKSURL != "" {
		return "external"
	}
	if c.IsDev() {
		return "development"
	}
	return "standalone"
}

// ResolvedStoreBackend returns the effective record store backend.
func (c *Config) ResolvedStoreBackend() string {
	if c.StoreBackend != "" {
		return c.StoreBackend
	}
	if c.DatabaseURL != "" {
		return "postgres"
	}
	if c.RedisURL != "" {
		return "redis"
	}
	return "memory"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE \"development\" accepts any token as a user id and is refused when ENV=production")
		}
	case "standalone":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when AUTH_MODE is \"standalone\"")
		}
		if c.AuthTokenTTL <= 0 {
			return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
		}
	case "external":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}

	switch backend := c.ResolvedStoreBackend(); backend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORE_BACKEND \"memory\" loses all records on restart and is refused when ENV=production")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is \"postgres\"")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND is \"redis\"")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be \"memory\", \"postgres\", or \"redis\", got %q", backend)
	}

	switch c.AppointmentStatusPolicy {
	case "doctor-only", "state-machine":
	default:
		return fmt.Errorf("APPOINTMENT_STATUS_POLICY must be \"doctor-only\" or \"state-machine\", got %q", c.AppointmentStatusPolicy)
	}

	if err := c.validatePricing(); err != nil {
		return err
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) validatePricing() error {
	switch c.PricingPolicy {
	case "random", "fixed":
		lo, err := decimal.NewFromString(c.PricingMin)
		if err != nil {
			return fmt.Errorf("PRICING_MIN is not a number: %w", err)
		}
		if c.PricingPolicy == "fixed" {
			if lo.IsNegative() {
				return fmt.Errorf("PRICING_MIN must not be negative")
			}
			return nil
		}
		hi, err := decimal.NewFromString(c.PricingMax)
		if err != nil {
			return fmt.Errorf("PRICING_MAX is not a number: %w", err)
		}
		if !lo.IsInteger() || !hi.IsInteger() {
			return fmt.Errorf("PRICING_MIN and PRICING_MAX must be whole numbers for the random policy")
		}
		if lo.IsNegative() || hi.LessThan(lo) {
			return fmt.Errorf("pricing range [%s, %s] is invalid", lo, hi)
		}
	case "doctor-fee":
	default:
		return fmt.Errorf("PRICING_POLICY must be \"random\", \"doctor-fee\", or \"fixed\", got %q", c.PricingPolicy)
	}
	return nil
}
