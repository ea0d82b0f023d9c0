package limiter

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultKeyPrefix namespaces every key the Redis stores touch.
	DefaultKeyPrefix = "rate_limit:"

	// DefaultRedisTimeout bounds each Redis operation. Kept low on purpose:
	// a slow shared backend is treated like an unreachable one so the
	// admission path never stalls behind it.
	DefaultRedisTimeout = 250 * time.Millisecond
)

type redisOptions struct {
	prefix  string
	timeout time.Duration
}

func defaultRedisOptions() redisOptions {
	return redisOptions{
		prefix:  DefaultKeyPrefix,
		timeout: DefaultRedisTimeout,
	}
}

// RedisOption configures the Redis-backed stores.
type RedisOption func(*redisOptions)

// WithPrefix sets the key prefix (default "rate_limit:").
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// WithTimeout bounds each Redis operation (default 250ms).
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) { o.timeout = d }
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock replaces the time source, mainly for tests.
func WithClock(c Clock) Option {
	return func(rl *RateLimiter) { rl.clock = c }
}

// WithLogger attaches a logger for decision and lifecycle events.
func WithLogger(log *zap.Logger) Option {
	return func(rl *RateLimiter) { rl.log = log }
}

// WithRecorder injects a metrics backend.
func WithRecorder(r Recorder) Option {
	return func(rl *RateLimiter) { rl.recorder = r }
}
