// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Auth modes.
const (
	AuthHeader = "header"
	AuthJWT    = "jwt"
)

// Config is the server configuration.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	StoreDriver       string        `env:"STORE_DRIVER" envDefault:"sqlite"`
	DBPath            string        `env:"DB_PATH" envDefault:"./data/jobsettle.db"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	SQLiteBusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`

	LockBackend string        `env:"LOCK_BACKEND" envDefault:"memory"`
	RedisAddr   string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	LockExpiry  time.Duration `env:"LOCK_EXPIRY" envDefault:"10s"`

	AuthMode  string        `env:"AUTH_MODE" envDefault:"header"`
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTelEndpoint string   `env:"OTEL_ENDPOINT"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the environment into a Config without validating it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.LockBackend {
	case LockMemory:
	case LockRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis lock backend"))
		}
		if c.LockExpiry <= c.LockTimeout {
			errs = append(errs, fmt.Errorf("LOCK_EXPIRY (%s) must exceed LOCK_TIMEOUT (%s)", c.LockExpiry, c.LockTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}

	switch c.AuthMode {
	case AuthHeader:
	case AuthJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required for jwt auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
