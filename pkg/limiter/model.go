package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Actor identifies the entity being rate-limited. It is opaque to the
// limiter; callers typically derive it from a messaging-platform user id.
type Actor string

// ActorID converts a numeric platform user id into an Actor.
func ActorID(id int64) Actor {
	return Actor(strconv.FormatInt(id, 10))
}

// Policy defines the admission rules applied to every non-exempt actor.
type Policy struct {
	// MaxRequests is the number of events allowed per actor within Window.
	// A count exactly equal to MaxRequests is still allowed; the first
	// denial happens at MaxRequests+1.
	MaxRequests int64

	// Window is the length of the trailing window events are counted over.
	Window time.Duration

	// BanDuration is how long an actor is suspended after exceeding the
	// limit. Zero means throttle-only: events past the limit are denied,
	// but no suspension is recorded.
	BanDuration time.Duration

	// AdminExempt controls whether ExemptActors bypass all checks.
	AdminExempt bool

	// ExemptActors are never counted, never banned, always allowed.
	ExemptActors []Actor
}

// Validate reports whether the policy is usable. A process must refuse to
// start on an invalid policy rather than run with ambiguous rules.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidPolicy, p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidPolicy, p.Window)
	}
	if p.BanDuration < 0 {
		return fmt.Errorf("%w: ban duration must not be negative, got %s", ErrInvalidPolicy, p.BanDuration)
	}
	return nil
}

// Reason explains a Decision.
type Reason string

const (
	// ReasonOK marks an ordinary allowed event.
	ReasonOK Reason = "ok"
	// ReasonExempt marks an event from an exempt actor. No state was touched.
	ReasonExempt Reason = "exempt"
	// ReasonBanned marks an event denied because the actor is suspended.
	ReasonBanned Reason = "banned"
	// ReasonLimitExceeded marks the denial that imposed a new suspension.
	ReasonLimitExceeded Reason = "limit_exceeded"
	// ReasonThrottled marks a denial under a throttle-only policy (BanDuration 0).
	ReasonThrottled Reason = "throttled"
	// ReasonFailOpen marks an event allowed because the active backend
	// failed; see the fail-open discussion in the package documentation.
	ReasonFailOpen Reason = "fail_open"
	// ReasonUnattributed marks an event that carried no actor identity and
	// bypassed rate limiting entirely.
	ReasonUnattributed Reason = "unattributed"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allow bool

	// Count is the actor's event count within the window after this event
	// was recorded. Zero for exempt and fail-open decisions.
	Count int64

	// RetryAfter is 0 when allowed; when denied it is how long the actor
	// should wait before the next attempt can succeed.
	RetryAfter time.Duration

	Reason Reason
}

// CounterStore records events and reports per-actor counts inside the
// trailing window. Implementations must be atomic per actor: concurrent
// calls for the same actor must never lose an increment. Slight
// over-counting under races is tolerable; under-counting is not.
type CounterStore interface {
	// RecordAndCount appends an event at now, discards entries older than
	// the window, and returns the resulting in-window count. The event is
	// recorded unconditionally, including when the caller goes on to deny it.
	RecordAndCount(ctx context.Context, actor Actor, now time.Time) (int64, error)

	// Oldest returns the timestamp of the oldest event still inside the
	// window, or the zero time when the actor has none.
	Oldest(ctx context.Context, actor Actor, now time.Time) (time.Time, error)

	// Reset clears all recorded events for the actor. Idempotent.
	Reset(ctx context.Context, actor Actor) error

	// Size returns the in-window count without recording anything.
	Size(ctx context.Context, actor Actor, now time.Time) (int64, error)
}

// BanStore tracks per-actor temporary suspensions. It is deliberately
// separate from CounterStore: ban state and counting state have different
// lifetimes and must never be pruned together.
type BanStore interface {
	// IsBanned reports whether the actor is suspended at now. The returned
	// time is the suspension deadline; a non-zero deadline with banned ==
	// false means a suspension just lapsed and the caller may want to log
	// its expiry.
	IsBanned(ctx context.Context, actor Actor, now time.Time) (bool, time.Time, error)

	// Ban suspends the actor until the given deadline. An existing later
	// deadline is kept: bans extend, never shorten.
	Ban(ctx context.Context, actor Actor, until time.Time) error

	// Clear lifts any suspension. Idempotent.
	Clear(ctx context.Context, actor Actor) error
}

// Backend supplies the currently active store pair and accepts failure
// reports. The Supervisor implements it for deployments with a shared
// backend; StaticBackend covers single-backend local deployments.
type Backend interface {
	Stores() (CounterStore, BanStore)
	ReportFailure(err error)
}

// StaticBackend is a Backend with a fixed store pair and no failover.
type StaticBackend struct {
	Counters CounterStore
	Bans     BanStore
}

func (b StaticBackend) Stores() (CounterStore, BanStore) { return b.Counters, b.Bans }

func (StaticBackend) ReportFailure(error) {}
