package limiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber flips between healthy and failing without a Redis server.
type fakeProber struct {
	healthy atomic.Bool
	calls   atomic.Int64
}

func (p *fakeProber) Probe(context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errors.New("probe: connection refused")
}

func newTestSupervisor(t *testing.T, prober Prober) (*Supervisor, CounterStore, CounterStore) {
	t.Helper()
	shared := NewLocalCounterStore(time.Minute) // stands in for the Redis pair
	local := NewLocalCounterStore(time.Minute)
	sup := NewSupervisor(nil, shared, NewLocalBanStore(), local, NewLocalBanStore(),
		WithProber(prober),
		WithProbeInterval(5*time.Millisecond),
		WithMaxProbeBackoff(20*time.Millisecond),
		WithProbeTimeout(50*time.Millisecond),
	)
	t.Cleanup(sup.Close)
	return sup, shared, local
}

func TestSupervisor_StartsConnected(t *testing.T) {
	sup, shared, _ := newTestSupervisor(t, &fakeProber{})
	assert.Equal(t, StateConnected, sup.State())

	counters, _ := sup.Stores()
	assert.Same(t, shared, counters)
}

func TestSupervisor_DegradesAndReconnects(t *testing.T) {
	prober := &fakeProber{}
	sup, shared, local := newTestSupervisor(t, prober)

	sup.ReportFailure(errors.New("dial tcp: connection refused"))
	assert.NotEqual(t, StateConnected, sup.State())

	counters, _ := sup.Stores()
	assert.Same(t, local, counters, "degraded supervisor serves the local pair")

	// Probes fail until the backend comes back.
	require.Eventually(t, func() bool { return prober.calls.Load() >= 2 },
		time.Second, time.Millisecond, "probe loop keeps retrying")
	assert.NotEqual(t, StateConnected, sup.State())

	prober.healthy.Store(true)
	require.Eventually(t, func() bool { return sup.State() == StateConnected },
		time.Second, time.Millisecond, "probe success reconnects")

	counters, _ = sup.Stores()
	assert.Same(t, shared, counters, "reconnected supervisor serves the shared pair again")
}

func TestSupervisor_NilErrorIsIgnored(t *testing.T) {
	prober := &fakeProber{}
	sup, _, _ := newTestSupervisor(t, prober)

	sup.ReportFailure(nil)
	assert.Equal(t, StateConnected, sup.State())
	assert.Zero(t, prober.calls.Load())
}

func TestSupervisor_RepeatedFailuresWhileDegraded(t *testing.T) {
	prober := &fakeProber{}
	sup, _, _ := newTestSupervisor(t, prober)

	for i := 0; i < 10; i++ {
		sup.ReportFailure(errors.New("still down"))
	}
	assert.NotEqual(t, StateConnected, sup.State())

	prober.healthy.Store(true)
	require.Eventually(t, func() bool { return sup.State() == StateConnected },
		time.Second, time.Millisecond)
}

// Simulates a full outage: the shared store starts failing mid-sequence,
// every affected check resolves to Allow, counting continues locally, and a
// later recovery flips back to the shared pair without losing the pipeline.
func TestSupervisor_DegradationKeepsPipelineAlive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testStart)
	prober := &fakeProber{}

	shared := &flakyCounterStore{inner: NewLocalCounterStore(time.Minute)}
	local := NewLocalCounterStore(time.Minute)
	sup := NewSupervisor(nil, shared, NewLocalBanStore(), local, NewLocalBanStore(),
		WithProber(prober),
		WithProbeInterval(5*time.Millisecond),
		WithProbeTimeout(50*time.Millisecond),
	)
	t.Cleanup(sup.Close)

	rl, err := NewRateLimiter(Policy{MaxRequests: 100, Window: time.Minute, BanDuration: time.Minute},
		sup, WithClock(clock))
	require.NoError(t, err)
	actor := ActorID(42)

	// Healthy shared backend.
	for i := 0; i < 5; i++ {
		require.True(t, rl.Check(ctx, actor).Allow)
	}

	// Backend starts failing: the in-flight check fails open, the state
	// machine degrades, and subsequent checks count locally.
	shared.failing.Store(true)
	dec := rl.Check(ctx, actor)
	require.True(t, dec.Allow, "no event may be dropped by a store failure")
	assert.Equal(t, ReasonFailOpen, dec.Reason)
	assert.NotEqual(t, StateConnected, sup.State())

	for i := 0; i < 5; i++ {
		dec := rl.Check(ctx, actor)
		require.True(t, dec.Allow)
		assert.Equal(t, ReasonOK, dec.Reason, "degraded checks run against the local store")
	}
	localCount, err := local.Size(ctx, actor, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), localCount)

	// Recovery: counts accumulated locally stay local, and that is fine.
	shared.failing.Store(false)
	prober.healthy.Store(true)
	require.Eventually(t, func() bool { return sup.State() == StateConnected },
		time.Second, time.Millisecond)

	dec = rl.Check(ctx, actor)
	require.True(t, dec.Allow)
	sharedCount, err := shared.inner.Size(ctx, actor, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(6), sharedCount, "5 pre-outage events plus the post-recovery one")
}

// flakyCounterStore wraps a working store and can be switched into a
// failing mode.
type flakyCounterStore struct {
	inner   *LocalCounterStore
	failing atomic.Bool
}

func (s *flakyCounterStore) RecordAndCount(ctx context.Context, actor Actor, now time.Time) (int64, error) {
	if s.failing.Load() {
		return 0, errors.New("dial tcp: i/o timeout")
	}
	return s.inner.RecordAndCount(ctx, actor, now)
}

func (s *flakyCounterStore) Oldest(ctx context.Context, actor Actor, now time.Time) (time.Time, error) {
	if s.failing.Load() {
		return time.Time{}, errors.New("dial tcp: i/o timeout")
	}
	return s.inner.Oldest(ctx, actor, now)
}

func (s *flakyCounterStore) Reset(ctx context.Context, actor Actor) error {
	if s.failing.Load() {
		return errors.New("dial tcp: i/o timeout")
	}
	return s.inner.Reset(ctx, actor)
}

func (s *flakyCounterStore) Size(ctx context.Context, actor Actor, now time.Time) (int64, error) {
	if s.failing.Load() {
		return 0, errors.New("dial tcp: i/o timeout")
	}
	return s.inner.Size(ctx, actor, now)
}

func TestBackendState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", BackendState(99).String())
}
