package ratelimit

import (
	"time"

	"playshelf/internal/common/errors"
)

// BackendType selects where per-key state lives
type BackendType string

const (
	BackendLocal       BackendType = "local"
	BackendDistributed BackendType = "distributed"
)

// Config represents per-client rate limiter configuration
type Config struct {
	// RequestsPerSecond is the sustained rate per key; zero disables limiting
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is how many requests a key may send back to back
	Burst int `yaml:"burst"`

	// KeyPrefix namespaces Redis keys
	KeyPrefix string `yaml:"key_prefix,omitempty"`
	// IdleTimeout drops the local state of a key unused this long
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
}

// DefaultConfig leaves limiting disabled
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "playshelf:client:",
		IdleTimeout: 10 * time.Minute,
	}
}

// Enabled reports whether any limiting applies
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// Validate checks the configuration, filling unset optional values
func (c *Config) Validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.ConfigError("client rate limit must not be negative")
	}
	if !c.Enabled() {
		return nil
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return nil
}

// window is the span over which Burst requests are admitted by the Redis backend
func (c Config) window() time.Duration {
	return time.Duration(float64(c.Burst) / c.RequestsPerSecond * float64(time.Second))
}
