package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Backing store drivers, selected by the scheme of Connection.DBURL.
const (
	DriverMongo = "mongodb"
	DriverRedis = "redis"
)

// processStart backs the default secret. It is not persisted, so tokens only
// survive a restart when SESSION_SECRET is set explicitly.
var processStart = strconv.FormatInt(time.Now().UnixMilli(), 10)

// Config holds all configuration for the session module.
type Config struct {
	// Token Configuration
	Secret          string `env:"SESSION_SECRET"`
	TokenHeaderName string `env:"SESSION_TOKEN_HEADER" envDefault:"access-token"`

	// Record retention
	DurationDays int  `env:"SESSION_DURATION_DAYS" envDefault:"14"`
	Multi        bool `env:"SESSION_MULTI" envDefault:"false"`

	// Request attribute the decode middleware writes the resolved session to
	ReqAttribute string `env:"SESSION_REQ_ATTRIBUTE" envDefault:"session"`

	// Backing collection (MongoDB) or key namespace (Redis)
	CollectionName string `env:"SESSION_COLLECTION" envDefault:"sessions"`

	// Sweep schedule, cron syntax with a leading seconds field
	SweepSchedule string `env:"SESSION_SWEEP_SCHEDULE" envDefault:"0 0 0 * * *"`

	Connection ConnectionConfig
}

// ConnectionConfig enables persistence when DBURL is set.
type ConnectionConfig struct {
	DBURL          string        `env:"SESSION_DB_URL"`
	DBName         string        `env:"SESSION_DB_NAME" envDefault:"session_registry"`
	ConnectTimeout time.Duration `env:"SESSION_CONNECT_TIMEOUT" envDefault:"10s"`
}

// Default returns the library defaults: memory-only, SINGLE retention.
func Default() *Config {
	return &Config{
		Secret:          processStart,
		TokenHeaderName: "access-token",
		DurationDays:    14,
		Multi:           false,
		ReqAttribute:    "session",
		CollectionName:  "sessions",
		SweepSchedule:   "0 0 0 * * *",
		Connection: ConnectionConfig{
			DBName:         "session_registry",
			ConnectTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load configuration from environment: " + err.Error())
	}

	if cfg.Secret == "" {
		cfg.Secret = processStart
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option values that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("session secret cannot be empty")
	}
	if strings.TrimSpace(c.TokenHeaderName) == "" {
		return errors.New("token header name cannot be empty")
	}
	if strings.TrimSpace(c.ReqAttribute) == "" {
		return errors.New("request attribute cannot be empty")
	}
	if c.DurationDays <= 0 {
		return fmt.Errorf("session duration must be a positive number of days, got %d", c.DurationDays)
	}
	if c.CollectionName == "" {
		return errors.New("collection name cannot be empty")
	}
	if c.PersistenceEnabled() {
		if _, err := c.Connection.Driver(); err != nil {
			return err
		}
		if c.Connection.DBName == "" {
			return errors.New("db name is required when a db url is set")
		}
	}
	return nil
}

// PersistenceEnabled reports whether a backing store is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.Connection.DBURL != ""
}

// Duration is the number of days a new record stays valid, as a time.Duration.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.DurationDays) * 24 * time.Hour
}

// Driver maps the DB URL scheme to a backing store driver.
func (cc ConnectionConfig) Driver() (string, error) {
	u, err := url.Parse(cc.DBURL)
	if err != nil {
		return "", fmt.Errorf("invalid db url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "mongodb", "mongodb+srv":
		return DriverMongo, nil
	case "redis", "rediss":
		return DriverRedis, nil
	default:
		return "", fmt.Errorf("unsupported db url scheme %q", u.Scheme)
	}
}
