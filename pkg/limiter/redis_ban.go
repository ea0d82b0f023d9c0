package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// banScript writes the suspension deadline only when it extends the
// existing one, so two instances banning the same actor can never shorten
// an in-force suspension.
//
// KEYS[1] actor's ban key   ARGV[1] deadline (unix seconds)   ARGV[2] key TTL
var banScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing and tonumber(existing) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', tonumber(ARGV[2]))
return 1
`)

// RedisBanStore tracks suspensions in a shared Redis key per actor. The key
// value is the deadline in unix seconds and the key expires with the
// suspension, so lapsed bans clean themselves up.
type RedisBanStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisBanStore constructs a ban store over the given client.
func NewRedisBanStore(client *redis.Client, opts ...RedisOption) *RedisBanStore {
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisBanStore{
		client:  client,
		prefix:  o.prefix,
		timeout: o.timeout,
	}
}

func (s *RedisBanStore) key(actor Actor) string {
	return s.prefix + string(actor) + ":banned"
}

// IsBanned reports whether the actor is suspended at now.
func (s *RedisBanStore) IsBanned(ctx context.Context, actor Actor, now time.Time) (bool, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(actor)).Result()
	if err == redis.Nil {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("ban lookup for actor %s: %w", actor, err)
	}
	sec, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("ban lookup for actor %s: bad deadline %q", actor, val)
	}
	until := timeFromUnixSeconds(sec)
	if !now.Before(until) {
		// The key TTL normally handles this; seen only when the caller's
		// clock runs ahead of the server expiry.
		s.client.Del(ctx, s.key(actor))
		return false, until, nil
	}
	return true, until, nil
}

// Ban suspends the actor until the given deadline, keeping any later
// existing deadline.
func (s *RedisBanStore) Ban(ctx context.Context, actor Actor, until time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// TTL comes from the wall clock: Redis expiry is wall-clock time no
	// matter what Clock the policy engine was built with.
	ttl := int64(time.Until(until).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	if err := banScript.Run(ctx, s.client, []string{s.key(actor)},
		formatUnixSeconds(until), ttl).Err(); err != nil {
		return fmt.Errorf("ban actor %s: %w", actor, err)
	}
	return nil
}

// Clear lifts any suspension for the actor.
func (s *RedisBanStore) Clear(ctx context.Context, actor Actor) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(actor)).Err(); err != nil {
		return fmt.Errorf("clear ban for actor %s: %w", actor, err)
	}
	return nil
}
