package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage   StorageConfig
	Redis     RedisConfig
	Retry     RetryConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// StorageConfig selects the order store.
type StorageConfig struct {
	Driver      string `default:"postgres" usage:"Order store: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SeedFile    string `default:"db/seed/catalog.json" usage:"Catalog fixture loaded into the memory store, empty to start empty"`
}

// RedisConfig configures the order confirmation publisher. An empty URL
// disables it and confirmations are only logged.
type RedisConfig struct {
	URL     string `usage:"Redis URL for order confirmations (CHECKOUT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Channel string `default:"checkout.invoice.committed" usage:"Pub/sub channel for committed invoices"`
}

// RateLimitConfig bounds order placement per client IP.
type RateLimitConfig struct {
	Rate       float64 `default:"2" usage:"Sustained order placements per second per client"`
	Burst      int     `default:"20" usage:"Order placements a client may burst"`
	TrustProxy bool    `default:"false" usage:"Key clients by X-Forwarded-For or X-Real-IP"`
}

// RetryConfig controls conflict retries of a commit.
type RetryConfig struct {
	MaxAttempts int           `default:"5" usage:"Maximum commit attempts"`
	BaseDelay   time.Duration `default:"100ms" usage:"Delay after the first conflicting attempt, doubled after each"`
	Jitter      float64       `default:"0" usage:"Randomization factor applied to retry delays"`
}

// Policy converts the config into an order.RetryPolicy.
func (c RetryConfig) Policy() order.RetryPolicy {
	return order.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Jitter:      c.Jitter,
	}
}

// NotifyConfig controls post-commit notifications.
type NotifyConfig struct {
	Timeout time.Duration `default:"5s" usage:"Timeout of a single confirmation publish"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the CHECKOUT_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set CHECKOUT_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst < 1 {
		return errors.New("rate limit needs a positive rate and a burst of at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 {
		return errors.New("retry base delay must not be negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.Errorf("retry jitter must be within [0, 1], got %v", c.Retry.Jitter)
	}
	return nil
}
