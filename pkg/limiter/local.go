package limiter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

// LocalCounterStore is an in-process sliding-window counter.
//
// State is sharded by actor so that unrelated actors never contend on one
// lock; within a shard each actor holds an ascending slice of event
// timestamps pruned from the front on every call. State is local to the
// process and is not shared across replicas; use RedisCounterStore when a
// single global budget is required.
type LocalCounterStore struct {
	window time.Duration
	shards [shardCount]counterShard
}

type counterShard struct {
	mu     sync.Mutex
	events map[Actor][]int64 // unix nanos, ascending
}

// NewLocalCounterStore constructs an empty store counting over the given
// window.
func NewLocalCounterStore(window time.Duration) *LocalCounterStore {
	s := &LocalCounterStore{window: window}
	for i := range s.shards {
		s.shards[i].events = make(map[Actor][]int64)
	}
	return s
}

func (s *LocalCounterStore) shard(actor Actor) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(actor))
	return &s.shards[h.Sum32()%shardCount]
}

// RecordAndCount appends an event at now, drops entries older than the
// window, and returns the in-window count including the new event.
func (s *LocalCounterStore) RecordAndCount(_ context.Context, actor Actor, now time.Time) (int64, error) {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := pruneFront(sh.events[actor], now.Add(-s.window).UnixNano())
	ts = append(ts, now.UnixNano())
	sh.events[actor] = ts
	return int64(len(ts)), nil
}

// Oldest returns the oldest in-window event for the actor, or the zero time.
func (s *LocalCounterStore) Oldest(_ context.Context, actor Actor, now time.Time) (time.Time, error) {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := now.Add(-s.window).UnixNano()
	for _, t := range sh.events[actor] {
		if t >= cutoff {
			return time.Unix(0, t), nil
		}
	}
	return time.Time{}, nil
}

// Reset clears all recorded events for the actor.
func (s *LocalCounterStore) Reset(_ context.Context, actor Actor) error {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.events, actor)
	return nil
}

// Size reports the in-window count without recording anything.
func (s *LocalCounterStore) Size(_ context.Context, actor Actor, now time.Time) (int64, error) {
	sh := s.shard(actor)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := now.Add(-s.window).UnixNano()
	var n int64
	for _, t := range sh.events[actor] {
		if t >= cutoff {
			n++
		}
	}
	return n, nil
}

// Sweep drops actors whose every event has expired. Pruning otherwise
// happens lazily on the next call for the same actor, so a long-lived
// process with high actor cardinality should run this periodically for
// memory hygiene.
func (s *LocalCounterStore) Sweep(now time.Time) {
	cutoff := now.Add(-s.window).UnixNano()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for actor, ts := range sh.events {
			if len(ts) == 0 || ts[len(ts)-1] < cutoff {
				delete(sh.events, actor)
			}
		}
		sh.mu.Unlock()
	}
}

// pruneFront drops leading entries strictly older than cutoff, reusing the
// slice's backing array.
func pruneFront(ts []int64, cutoff int64) []int64 {
	i := 0
	for i < len(ts) && ts[i] < cutoff {
		i++
	}
	if i == 0 {
		return ts
	}
	n := copy(ts, ts[i:])
	return ts[:n]
}
