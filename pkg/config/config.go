// Package config loads and validates the floodgate configuration from a
// YAML file and FLOODGATE_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kelechio/floodgate/pkg/limiter"
)

// Backend selectors.
const (
	BackendLocal  = "local"
	BackendShared = "shared"
)

// Config is the full configuration surface of the abuse-protection layer.
type Config struct {
	// MaxRequests is the number of events allowed per actor per window.
	MaxRequests int64 `mapstructure:"max_requests"`

	// WindowSeconds is the sliding window length.
	WindowSeconds int `mapstructure:"window_seconds"`

	// BanDurationSeconds is the suspension length on violation; 0 means
	// throttle-only.
	BanDurationSeconds int `mapstructure:"ban_duration_seconds"`

	// AdminExempt controls whether ExemptActors bypass checks.
	AdminExempt bool `mapstructure:"admin_exempt"`

	// ExemptActors are platform user ids exempt from all checks.
	ExemptActors []int64 `mapstructure:"exempt_actors"`

	// Backend selects the counting backend: "local" or "shared".
	Backend string `mapstructure:"backend"`

	Redis RedisConfig `mapstructure:"redis"`

	// ListenAddr is where the serve command exposes its HTTP surface.
	ListenAddr string `mapstructure:"listen_addr"`

	// LogLevel is the minimum log level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig holds shared-backend connection parameters.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from the given file (optional) layered under
// environment overrides, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("max_requests", 20)
	v.SetDefault("window_seconds", 60)
	v.SetDefault("ban_duration_seconds", 300)
	v.SetDefault("admin_exempt", true)
	v.SetDefault("backend", BackendLocal)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", limiter.DefaultRedisTimeout)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("FLOODGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate refuses ambiguous policy values. Called at startup; a process
// must not run with a configuration it cannot interpret.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxRequests <= 0 {
		errs = append(errs, fmt.Errorf("max_requests must be positive, got %d", c.MaxRequests))
	}
	if c.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("window_seconds must be positive, got %d", c.WindowSeconds))
	}
	if c.BanDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("ban_duration_seconds must not be negative, got %d", c.BanDurationSeconds))
	}
	switch c.Backend {
	case BackendLocal:
	case BackendShared:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("backend \"shared\" requires redis.addr"))
		}
		if c.Redis.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("redis.timeout must be positive, got %s", c.Redis.Timeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendLocal, BackendShared))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Window returns the sliding window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Policy converts the configuration into the limiter's policy value.
func (c *Config) Policy() limiter.Policy {
	exempt := make([]limiter.Actor, 0, len(c.ExemptActors))
	for _, id := range c.ExemptActors {
		exempt = append(exempt, limiter.ActorID(id))
	}
	return limiter.Policy{
		MaxRequests:  c.MaxRequests,
		Window:       c.Window(),
		BanDuration:  time.Duration(c.BanDurationSeconds) * time.Second,
		AdminExempt:  c.AdminExempt,
		ExemptActors: exempt,
	}
}
