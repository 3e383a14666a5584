// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the API process configuration.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	RunLocal bool   `env:"RUN_LOCAL" envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	ProductsTable    string `env:"PRODUCTS_TABLE" envDefault:"products"`
	OrdersTable      string `env:"ORDERS_TABLE" envDefault:"orders"`
	UsersTable       string `env:"USERS_TABLE" envDefault:"users"`
	IdempotencyTable string `env:"IDEMPOTENCY_TABLE" envDefault:"idempotency"`

	NotificationsQueueURL string `env:"NOTIFICATIONS_QUEUE_URL"`

	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	VerificationTTL time.Duration `env:"VERIFICATION_TTL" envDefault:"24h"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"48h"`

	// how long an unfinished checkout blocks retries with the same key
	IdempotencyLease time.Duration `env:"IDEMPOTENCY_LEASE" envDefault:"30s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	FrontendURL        string   `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"20"`

	MaxUploadBytes       int64  `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
	UploadsBucket        string `env:"UPLOADS_BUCKET"`
	UploadsPublicBaseURL string `env:"UPLOADS_PUBLIC_BASE_URL"`

	ProductsCacheMaxAge time.Duration `env:"PRODUCTS_CACHE_MAX_AGE" envDefault:"60s"`
	MetricsNamespace    string        `env:"METRICS_NAMESPACE" envDefault:"Makhana"`

	EnforceStock     bool `env:"ENFORCE_STOCK" envDefault:"true"`
	TrustClientTotal bool `env:"TRUST_CLIENT_TOTAL" envDefault:"false"`
}

// IsProduction reports whether internal error detail must be hidden from clients.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks the values env parsing cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters in production")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// LoadDotEnv loads a .env file if one exists; a missing file is not an error.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the API configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
