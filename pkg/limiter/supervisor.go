package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BackendState is the supervisor's view of the shared backend.
type BackendState int32

const (
	// StateConnected means the shared stores serve all checks.
	StateConnected BackendState = iota
	// StateDegraded means the shared backend is presumed unreachable and
	// the local stores serve all checks.
	StateDegraded
	// StateReconnecting means a background probe is in flight; checks keep
	// using the local stores until it succeeds.
	StateReconnecting
)

func (s BackendState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Prober checks whether the shared backend answers.
type Prober interface {
	Probe(ctx context.Context) error
}

type redisProber struct {
	client *redis.Client
}

func (p redisProber) Probe(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Supervisor owns the backend degradation state machine.
//
// It is the only writer of BackendState; every check call reads the active
// store pair through Stores without blocking on probes. A failure report
// flips Connected to Degraded and starts one background probe loop, which
// retries with capped exponential backoff until the shared backend answers
// again. State accumulated in the local stores while degraded is not
// migrated back: the two backends own disjoint state, and the consistency
// gap during an outage is accepted.
type Supervisor struct {
	sharedCounters CounterStore
	sharedBans     BanStore
	localCounters  CounterStore
	localBans      BanStore

	prober       Prober
	probeAfter   time.Duration
	maxBackoff   time.Duration
	probeTimeout time.Duration
	log          *zap.Logger
	recorder     Recorder

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithProbeInterval sets the delay before the first reconnection probe;
// subsequent probes back off exponentially from it (default 1s).
func WithProbeInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.probeAfter = d }
}

// WithMaxProbeBackoff caps the probe backoff (default 30s).
func WithMaxProbeBackoff(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.maxBackoff = d }
}

// WithProbeTimeout bounds each probe attempt (default 250ms).
func WithProbeTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.probeTimeout = d }
}

// WithProber replaces the Redis ping probe, mainly for tests.
func WithProber(p Prober) SupervisorOption {
	return func(s *Supervisor) { s.prober = p }
}

// WithSupervisorLogger attaches a logger for state transitions.
func WithSupervisorLogger(log *zap.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithSupervisorRecorder injects a metrics backend.
func WithSupervisorRecorder(r Recorder) SupervisorOption {
	return func(s *Supervisor) { s.recorder = r }
}

// NewSupervisor builds a supervisor starting in StateConnected with the
// shared pair active. The client is used only for reconnection probes.
func NewSupervisor(client *redis.Client, sharedCounters CounterStore, sharedBans BanStore,
	localCounters CounterStore, localBans BanStore, opts ...SupervisorOption) *Supervisor {

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		sharedCounters: sharedCounters,
		sharedBans:     sharedBans,
		localCounters:  localCounters,
		localBans:      localBans,
		prober:         redisProber{client: client},
		probeAfter:     time.Second,
		maxBackoff:     30 * time.Second,
		probeTimeout:   DefaultRedisTimeout,
		log:            zap.NewNop(),
		recorder:       NoOpRecorder{},
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current backend state.
func (s *Supervisor) State() BackendState {
	return BackendState(s.state.Load())
}

// Stores returns the active store pair: shared while connected, local
// otherwise.
func (s *Supervisor) Stores() (CounterStore, BanStore) {
	if s.State() == StateConnected {
		return s.sharedCounters, s.sharedBans
	}
	return s.localCounters, s.localBans
}

// ReportFailure records a shared-backend failure. The first report while
// connected degrades to the local stores and starts the probe loop; reports
// in any other state are no-ops, as is a nil error.
func (s *Supervisor) ReportFailure(err error) {
	if err == nil {
		return
	}
	if s.state.CompareAndSwap(int32(StateConnected), int32(StateDegraded)) {
		s.log.Warn("shared backend degraded, serving from local stores", zap.Error(err))
		s.recorder.Add("floodgate.backend_degraded", 1, nil)
		s.wg.Add(1)
		go s.probeLoop()
	}
}

func (s *Supervisor) probeLoop() {
	defer s.wg.Done()

	backoff := s.probeAfter
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		s.state.Store(int32(StateReconnecting))
		ctx, cancel := context.WithTimeout(s.ctx, s.probeTimeout)
		err := s.prober.Probe(ctx)
		cancel()

		if err == nil {
			s.state.Store(int32(StateConnected))
			s.log.Info("shared backend reconnected")
			s.recorder.Add("floodgate.backend_reconnected", 1, nil)
			return
		}

		s.state.Store(int32(StateDegraded))
		s.log.Debug("reconnection probe failed",
			zap.Duration("next_probe_in", backoff), zap.Error(err))
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
		timer.Reset(backoff)
	}
}

// Close stops any probe loop and waits for it to exit.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}
