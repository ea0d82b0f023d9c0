package limiter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// LocalBanStore tracks suspensions in process memory. Entries expire lazily
// on the next IsBanned call for the actor.
type LocalBanStore struct {
	shards [shardCount]banShard
}

type banShard struct {
	mu   sync.Mutex
	bans map[Actor]time.Time
}

// NewLocalBanStore constructs an empty ban store.
func NewLocalBanStore() *LocalBanStore {
	s := &LocalBanStore{}
	for i := range s.shards {
		s.shards[i].bans = make(map[Actor]time.Time)
	}
	return s
}

func (s *LocalBanStore) shard(actor Actor) *banShard {
	h := fnv.New32a()
	h.Write([]byte(actor))
	return &s.shards[h.Sum32()%shardCount]
}

// IsBanned reports whether the actor is suspended at now. A lapsed
// suspension is removed and reported as (false, deadline) so the caller can
// log its expiry.
func (s *LocalBanStore) IsBanned(_ context.Context, actor Actor, now time.Time) (bool, time.Time, error) {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	until, ok := sh.bans[actor]
	if !ok {
		return false, time.Time{}, nil
	}
	if !now.Before(until) {
		delete(sh.bans, actor)
		return false, until, nil
	}
	return true, until, nil
}

// Ban suspends the actor until the given deadline, keeping any later
// existing deadline.
func (s *LocalBanStore) Ban(_ context.Context, actor Actor, until time.Time) error {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.bans[actor]; ok && existing.After(until) {
		return nil
	}
	sh.bans[actor] = until
	return nil
}

// Clear lifts any suspension for the actor.
func (s *LocalBanStore) Clear(_ context.Context, actor Actor) error {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.bans, actor)
	return nil
}
