package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes expired events, records the new one, and
// returns the in-window cardinality as one atomic server-side step, so the
// prune and the count can never interleave with another client.
//
// KEYS[1] actor's event set     ARGV[1] window cutoff (unix seconds)
// ARGV[2] event time (unix seconds)   ARGV[3] unique member   ARGV[4] key TTL
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
local count = redis.call('ZCARD', KEYS[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
return count
`)

// RedisCounterStore is a sliding-window counter shared across instances.
//
// Each actor maps to a sorted set of events scored by unix time. Keys carry
// a TTL slightly longer than the window so abandoned actors self-expire.
type RedisCounterStore struct {
	client  *redis.Client
	window  time.Duration
	prefix  string
	timeout time.Duration
}

// NewRedisCounterStore constructs a store counting over the given window.
// Connectivity is not verified here; the first failing operation is
// reported to the supervisor, which owns degradation.
func NewRedisCounterStore(client *redis.Client, window time.Duration, opts ...RedisOption) *RedisCounterStore {
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisCounterStore{
		client:  client,
		window:  window,
		prefix:  o.prefix,
		timeout: o.timeout,
	}
}

func (s *RedisCounterStore) key(actor Actor) string {
	return s.prefix + string(actor) + ":requests"
}

// keyTTL keeps a minute of slack past the window so a key is never expired
// out from under an in-flight check.
func (s *RedisCounterStore) keyTTL() int64 {
	return int64(s.window.Seconds()) + 60
}

// RecordAndCount appends an event at now and returns the in-window count.
// The member is a UUID so same-instant events never collapse into one entry.
func (s *RedisCounterStore) RecordAndCount(ctx context.Context, actor Actor, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := slidingWindowScript.Run(ctx, s.client, []string{s.key(actor)},
		formatUnixSeconds(now.Add(-s.window)),
		formatUnixSeconds(now),
		uuid.NewString(),
		s.keyTTL(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("record event for actor %s: %w", actor, err)
	}
	return count, nil
}

// Oldest returns the oldest in-window event for the actor, or the zero time.
func (s *RedisCounterStore) Oldest(ctx context.Context, actor Actor, now time.Time) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.client.ZRangeWithScores(ctx, s.key(actor), 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest event for actor %s: %w", actor, err)
	}
	if len(entries) == 0 {
		return time.Time{}, nil
	}
	oldest := timeFromUnixSeconds(entries[0].Score)
	if oldest.Before(now.Add(-s.window)) {
		return time.Time{}, nil
	}
	return oldest, nil
}

// Reset deletes all recorded events for the actor.
func (s *RedisCounterStore) Reset(ctx context.Context, actor Actor) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(actor)).Err(); err != nil {
		return fmt.Errorf("reset actor %s: %w", actor, err)
	}
	return nil
}

// Size reports the in-window count without recording anything.
func (s *RedisCounterStore) Size(ctx context.Context, actor Actor, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := formatUnixSeconds(now.Add(-s.window))
	n, err := s.client.ZCount(ctx, s.key(actor), cutoff, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("size of actor %s: %w", actor, err)
	}
	return n, nil
}

func formatUnixSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func timeFromUnixSeconds(sec float64) time.Time {
	return time.UnixMicro(int64(sec * 1e6))
}
