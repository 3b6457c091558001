package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all runtime configuration, sourced from environment variables.
type Config struct {
	Addr     string `env:"IDENGINE_ADDR,     default=:8080"`
	Env      string `env:"IDENGINE_ENV,      default=development"`
	LogLevel string `env:"IDENGINE_LOG_LEVEL, default=info"`

	PGDSN string `env:"IDENGINE_PG_DSN"`

	JWTSecret  string        `env:"IDENGINE_JWT_SECRET"`
	Issuer     string        `env:"IDENGINE_ISSUER,     default=idengine"`
	AccessTTL  time.Duration `env:"IDENGINE_ACCESS_TTL, default=15m"`
	RefreshTTL time.Duration `env:"IDENGINE_REFRESH_TTL, default=168h"`

	MigrateOnBoot bool `env:"IDENGINE_MIGRATE_ON_BOOT, default=false"`

	LoginRatePerSecond int `env:"IDENGINE_LOGIN_RATE, default=5"`
	LoginRateBurst     int `env:"IDENGINE_LOGIN_BURST, default=10"`
}

// Load reads configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service must not start with. A missing
// signing secret is a startup failure, never a per-request one.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: IDENGINE_JWT_SECRET is required")
	}
	if c.AccessTTL <= 0 {
		return errors.New("config: access token TTL must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: refresh token TTL must exceed access token TTL")
	}
	return nil
}
