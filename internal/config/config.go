// Package config provides configuration management for the playshelf gateway.
// Configuration is assembled in three layers: built-in defaults, an optional YAML
// file, then environment variables. The result is checked with Validate before use.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: console or json (default: console)
//   - LOG_FILE: Optional log file; stdout when empty
//   - PLAYSHELF_CONFIG: Optional YAML file applied before the environment
//
// Provider Credentials:
//   - TWITCH_CLIENT_ID: OAuth2 client ID, also sent as the Client-ID header (required)
//   - TWITCH_CLIENT_SECRET: OAuth2 client secret (required)
//   - TOKEN_URL: Token endpoint (default: https://id.twitch.tv/oauth2/token)
//   - IGDB_BASE_URL: Search API base URL (default: https://api.igdb.com/v4)
//   - TOKEN_SAFETY_MARGIN: Renew tokens this long before expiry (default: 60s)
//
// Rate Limiting:
//   - RATE_LIMIT_CAPACITY: Token bucket capacity (default: 4)
//   - RATE_LIMIT_REFILL_PER_SECOND: Token bucket refill rate (default: 4)
//   - MAX_IN_FLIGHT: Concurrent upstream requests (default: 8)
//   - CLIENT_RATE_LIMIT: Inbound requests per second per client IP; 0 disables (default: 0)
//   - CLIENT_RATE_BURST: Inbound burst per client IP (default: the rate, at least 1)
//
// Caching:
//   - CACHE_TTL: Search page ttl (default: 5m)
//   - CACHE_CAPACITY: Maximum cached pages (default: 1024)
//   - CACHE_SWEEP_SCHEDULE: Cron schedule of the expired-entry sweep (default: @every 1m)
//   - REFERENCE_TTL: Platform and genre name ttl (default: 24h)
//   - REDIS_ADDRESS: Shared second-tier cache; disabled when empty
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//
// Upstream Calls:
//   - REQUEST_TIMEOUT: Deadline of each upstream attempt (default: 10s)
//   - RATE_LIMIT_RETRIES: Retries after a 429 (default: 3)
//   - DEFAULT_RETRY_AFTER: Backoff when a 429 carries no Retry-After (default: 1s)
//   - MAX_RETRY_AFTER: Upper bound on honoured Retry-After values (default: 30s)
//   - UPSTREAM_RETRIES: Retries after 5xx, transport errors and timeouts (default: 2)
//   - TOKEN_RETRIES: Attempts at a retryable token renewal (default: 3)
//   - RETRY_INITIAL_DELAY: First exponential backoff step (default: 200ms)
//
// Storage and Telemetry:
//   - DATABASE_PATH: SQLite library database (default: ./playshelf.db)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP gRPC endpoint; tracing disabled when empty
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatalf("Failed to load configuration: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"playshelf/internal/common/errors"
	"playshelf/internal/common/validation"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding an optional YAML config path
const ConfigFileEnv = "PLAYSHELF_CONFIG"

// Config holds all configuration values for the gateway.
type Config struct {
	// Application settings
	Port      string `yaml:"port" validate:"required,numeric"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`
	LogFile   string `yaml:"log_file"`

	// Provider credentials and endpoints
	ClientID          string        `yaml:"client_id" validate:"required"`
	ClientSecret      string        `yaml:"client_secret" validate:"required"`
	TokenURL          string        `yaml:"token_url" validate:"required,url"`
	IGDBBaseURL       string        `yaml:"igdb_base_url" validate:"required,url"`
	TokenSafetyMargin time.Duration `yaml:"token_safety_margin" validate:"gte=0"`

	// Rate limiting
	RateLimitCapacity        int     `yaml:"rate_limit_capacity" validate:"min=1"`
	RateLimitRefillPerSecond float64 `yaml:"rate_limit_refill_per_second" validate:"gt=0"`
	MaxInFlight              int     `yaml:"max_in_flight" validate:"min=1"`
	ClientRateLimit          float64 `yaml:"client_rate_limit" validate:"gte=0"`
	ClientRateBurst          int     `yaml:"client_rate_burst" validate:"gte=0"`

	// Caching
	CacheTTL           time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	CacheCapacity      int           `yaml:"cache_capacity" validate:"min=1"`
	CacheSweepSchedule string        `yaml:"cache_sweep_schedule" validate:"required,cron_schedule"`
	ReferenceTTL       time.Duration `yaml:"reference_ttl" validate:"gt=0"`
	RedisAddress       string        `yaml:"redis_address" validate:"omitempty,hostname_port"`
	RedisPassword      string        `yaml:"redis_password"`
	RedisDB            int           `yaml:"redis_db" validate:"min=0,max=15"`

	// Upstream call policy
	RequestTimeout    time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RateLimitRetries  int           `yaml:"rate_limit_retries" validate:"min=0"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after" validate:"gt=0"`
	MaxRetryAfter     time.Duration `yaml:"max_retry_after" validate:"gtefield=DefaultRetryAfter"`
	UpstreamRetries   int           `yaml:"upstream_retries" validate:"min=0"`
	TokenRetries      int           `yaml:"token_retries" validate:"min=1"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" validate:"gt=0"`

	// Storage and telemetry
	DatabasePath string `yaml:"database_path" validate:"required"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when neither a file nor the environment
// override a value.
func Default() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "console",

		TokenURL:          "https://id.twitch.tv/oauth2/token",
		IGDBBaseURL:       "https://api.igdb.com/v4",
		TokenSafetyMargin: 60 * time.Second,

		RateLimitCapacity:        4,
		RateLimitRefillPerSecond: 4,
		MaxInFlight:              8,

		CacheTTL:           5 * time.Minute,
		CacheCapacity:      1024,
		CacheSweepSchedule: "@every 1m",
		ReferenceTTL:       24 * time.Hour,

		RequestTimeout:    10 * time.Second,
		RateLimitRetries:  3,
		DefaultRetryAfter: time.Second,
		MaxRetryAfter:     30 * time.Second,
		UpstreamRetries:   2,
		TokenRetries:      3,
		RetryInitialDelay: 200 * time.Millisecond,

		DatabasePath: "./playshelf.db",
	}
}

// Load builds a Config from defaults, the YAML file named by PLAYSHELF_CONFIG (if any)
// and the environment. It does not validate; call Validate on the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to read config file %s", path)).WithCause(err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to parse config file %s", path)).WithCause(err)
	}
	return nil
}

// envReader applies environment overrides on top of the current values and
// remembers every value it could not parse.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, current string) string {
	return getEnv(key, current)
}

func (r *envReader) int(key string, current int) int {
	value := os.Getenv(key)
	if value == "" {
		return current
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer: %w", key, err))
		return current
	}
	return parsed
}

func (r *envReader) float(key string, current float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return current
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a number: %w", key, err))
		return current
	}
	return parsed
}

func (r *envReader) duration(key string, current time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return current
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration such as '30s': %w", key, err))
		return current
	}
	return parsed
}

func (c *Config) applyEnvOverrides() error {
	r := &envReader{}

	c.Port = r.str("PORT", c.Port)
	c.LogLevel = r.str("LOG_LEVEL", c.LogLevel)
	c.LogFormat = r.str("LOG_FORMAT", c.LogFormat)
	c.LogFile = r.str("LOG_FILE", c.LogFile)

	c.ClientID = r.str("TWITCH_CLIENT_ID", c.ClientID)
	c.ClientSecret = r.str("TWITCH_CLIENT_SECRET", c.ClientSecret)
	c.TokenURL = r.str("TOKEN_URL", c.TokenURL)
	c.IGDBBaseURL = r.str("IGDB_BASE_URL", c.IGDBBaseURL)
	c.TokenSafetyMargin = r.duration("TOKEN_SAFETY_MARGIN", c.TokenSafetyMargin)

	c.RateLimitCapacity = r.int("RATE_LIMIT_CAPACITY", c.RateLimitCapacity)
	c.RateLimitRefillPerSecond = r.float("RATE_LIMIT_REFILL_PER_SECOND", c.RateLimitRefillPerSecond)
	c.MaxInFlight = r.int("MAX_IN_FLIGHT", c.MaxInFlight)
	c.ClientRateLimit = r.float("CLIENT_RATE_LIMIT", c.ClientRateLimit)
	c.ClientRateBurst = r.int("CLIENT_RATE_BURST", c.ClientRateBurst)

	c.CacheTTL = r.duration("CACHE_TTL", c.CacheTTL)
	c.CacheCapacity = r.int("CACHE_CAPACITY", c.CacheCapacity)
	c.CacheSweepSchedule = r.str("CACHE_SWEEP_SCHEDULE", c.CacheSweepSchedule)
	c.ReferenceTTL = r.duration("REFERENCE_TTL", c.ReferenceTTL)
	c.RedisAddress = r.str("REDIS_ADDRESS", c.RedisAddress)
	c.RedisPassword = r.str("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = r.int("REDIS_DB", c.RedisDB)

	c.RequestTimeout = r.duration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.RateLimitRetries = r.int("RATE_LIMIT_RETRIES", c.RateLimitRetries)
	c.DefaultRetryAfter = r.duration("DEFAULT_RETRY_AFTER", c.DefaultRetryAfter)
	c.MaxRetryAfter = r.duration("MAX_RETRY_AFTER", c.MaxRetryAfter)
	c.UpstreamRetries = r.int("UPSTREAM_RETRIES", c.UpstreamRetries)
	c.TokenRetries = r.int("TOKEN_RETRIES", c.TokenRetries)
	c.RetryInitialDelay = r.duration("RETRY_INITIAL_DELAY", c.RetryInitialDelay)

	c.DatabasePath = r.str("DATABASE_PATH", c.DatabasePath)
	c.OTLPEndpoint = r.str("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	if len(r.errs) > 0 {
		return errors.ConfigError("invalid environment configuration").WithCause(stderrors.Join(r.errs...))
	}
	return nil
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks required fields and value ranges. The returned config AppError
// carries the offending field in its context.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c)
	if err == nil {
		return nil
	}

	appErr, ok := errors.As(err)
	if !ok {
		return errors.ConfigError("invalid configuration").WithCause(err)
	}
	return errors.ConfigError(appErr.Message).WithContext("field", appErr.Field)
}

// String renders the configuration with the client secret and Redis password masked.
func (c *Config) String() string {
	redacted := *c
	if redacted.ClientSecret != "" {
		redacted.ClientSecret = "[REDACTED]"
	}
	if redacted.RedisPassword != "" {
		redacted.RedisPassword = "[REDACTED]"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "config: <unprintable>"
	}
	return string(out)
}
