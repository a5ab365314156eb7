package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v2"
)

var defaultConfig = Config{
	Cache:     defaultCacheConfig,
	Session:   defaultSessionConfig,
	Heartbeat: defaultHeartbeatConfig,
	Telemetry: defaultTelemetryConfig,
}

var defaultCacheConfig = CacheConfig{
	StaleTime:     Duration(5 * time.Minute),
	GCTime:        Duration(5 * time.Minute),
	GCInterval:    Duration(time.Minute),
	MaxAttempts:   3,
	RetryDelay:    Duration(time.Second),
	RetryCap:      Duration(30 * time.Second),
	RefetchPerSec: 10,
}

var defaultSessionConfig = SessionConfig{
	MaxRetries: 3,
	RetryDelay: Duration(time.Second),
}

var defaultHeartbeatConfig = HeartbeatConfig{
	Interval: Duration(15 * time.Second),
	Timeout:  Duration(3 * time.Second),
}

var defaultTelemetryConfig = TelemetryConfig{
	MinSeverity: "medium",
}

// API holds the environment-provided connection settings for the remote
// data store. Both values are mandatory: the app cannot run without them.
type API struct {
	// Base URL of the hosted backend, e.g. https://abc.supabase.example
	URL string `env:"FIREQUIZ_API_URL,notEmpty"`

	// Public (anon) API key. Sent as `apikey` header and used as the
	// bearer token until a user session token is available.
	Key string `env:"FIREQUIZ_API_KEY,notEmpty"`
}

// FromEnv reads and validates the API settings from the environment.
func FromEnv() (*API, error) {
	a := &API{}
	if err := env.Parse(a); err != nil {
		return nil, fmt.Errorf("cannot read api settings from environment: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks that the URL is absolute and the key looks like a signed
// token. Malformed values are configuration mistakes and must stop startup.
func (a *API) Validate() error {
	u, err := url.Parse(a.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("`FIREQUIZ_API_URL` must be an absolute URL, got %q", a.URL)
	}

	if !strings.Contains(a.Key, ".") {
		return fmt.Errorf("`FIREQUIZ_API_KEY` doesn't look like a signed token")
	}
	p := jwt.NewParser()
	if _, _, err := p.ParseUnverified(a.Key, jwt.MapClaims{}); err != nil {
		return fmt.Errorf("`FIREQUIZ_API_KEY` is not a parseable token: %w", err)
	}

	return nil
}

// Config is the optional tuning file. Every field has a default, so the file
// itself may be absent.
type Config struct {
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`

	// Whether to print debug logs
	LogDebug bool `yaml:"log_debug,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultConfig

	// set c to the defaults and then overwrite it with the input.
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "config")
}

// CacheConfig tunes the query cache.
type CacheConfig struct {
	// Age after which a cached read is refetched on next observation
	StaleTime Duration `yaml:"stale_time,omitempty"`

	// Age after which an unobserved entry is evicted
	GCTime Duration `yaml:"gc_time,omitempty"`

	// How often the eviction pass runs
	GCInterval Duration `yaml:"gc_interval,omitempty"`

	// Fetch attempts before a read is failed
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Base delay of the exponential fetch backoff
	RetryDelay Duration `yaml:"retry_delay,omitempty"`

	// Upper bound of the fetch backoff
	RetryCap Duration `yaml:"retry_cap,omitempty"`

	// Refetch rate when connectivity comes back
	RefetchPerSec float64 `yaml:"refetch_per_sec,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *CacheConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultCacheConfig

	type plain CacheConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("field `max_attempts` must be positive. Got %d instead", c.MaxAttempts)
	}
	if c.GCInterval <= 0 {
		return fmt.Errorf("field `gc_interval` must be positive")
	}

	return checkOverflow(c.XXX, "cache")
}

// SessionConfig tunes the answer-save retry loop.
type SessionConfig struct {
	// Attempts for the answer save before surfacing a failure
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Base delay of the linear answer-save backoff
	RetryDelay Duration `yaml:"retry_delay,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *SessionConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultSessionConfig

	type plain SessionConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("field `max_retries` must be positive. Got %d instead", c.MaxRetries)
	}

	return checkOverflow(c.XXX, "session")
}

// RedisConfig points at the redis instance backing the token store. When no
// addresses are set the in-memory token store is used instead.
type RedisConfig struct {
	Addresses []string `yaml:"addresses,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *RedisConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain RedisConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	return checkOverflow(c.XXX, "redis")
}

// HeartbeatConfig tunes the connectivity prober.
type HeartbeatConfig struct {
	Interval Duration `yaml:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *HeartbeatConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultHeartbeatConfig

	type plain HeartbeatConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	if c.Timeout <= 0 || c.Interval <= 0 {
		return fmt.Errorf("heartbeat `interval` and `timeout` must be positive")
	}

	return checkOverflow(c.XXX, "heartbeat")
}

// TelemetryConfig controls which normalized errors reach the external sink.
type TelemetryConfig struct {
	// Minimum severity forwarded: low, medium, high or critical
	MinSeverity string `yaml:"min_severity,omitempty"`

	// Catches all undefined fields
	XXX map[string]interface{} `yaml:",inline"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (c *TelemetryConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	*c = defaultTelemetryConfig

	type plain TelemetryConfig
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}

	switch c.MinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("field `min_severity` must be one of low, medium, high, critical. Got %q instead", c.MinSeverity)
	}

	return checkOverflow(c.XXX, "telemetry")
}

// LoadFile loads and validates the tuning file. A missing file yields the
// defaults.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig
			return &cfg, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func checkOverflow(m map[string]interface{}, ctx string) error {
	if len(m) > 0 {
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		return fmt.Errorf("unknown fields in %s: %s", ctx, strings.Join(keys, ", "))
	}
	return nil
}
