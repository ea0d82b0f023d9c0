package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimiter is the policy engine. It owns the exemption list and the
// allow/deny/ban rules; counting and ban state live behind the Backend's
// currently active store pair.
type RateLimiter struct {
	policy   Policy
	backend  Backend
	exempt   map[Actor]struct{}
	clock    Clock
	log      *zap.Logger
	recorder Recorder
}

// NewRateLimiter validates the policy and builds the engine. An invalid
// policy is a startup error, never a degraded run.
func NewRateLimiter(policy Policy, backend Backend, opts ...Option) (*RateLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	rl := &RateLimiter{
		policy:   policy,
		backend:  backend,
		exempt:   make(map[Actor]struct{}),
		clock:    SystemClock(),
		log:      zap.NewNop(),
		recorder: NoOpRecorder{},
	}
	if policy.AdminExempt {
		for _, a := range policy.ExemptActors {
			rl.exempt[a] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl, nil
}

// Check evaluates one inbound event for the actor. The event is recorded
// even when the decision is a denial, so the offending event itself counts.
//
// A failing backend never surfaces as an error here: the failure is
// reported to the Backend for degradation and the event is allowed. Erring
// toward availability for legitimate traffic is preferred over wrongly
// banning real users during an infrastructure hiccup; that trade-off is
// deliberate and callers should not re-check the stores themselves.
func (rl *RateLimiter) Check(ctx context.Context, actor Actor) Decision {
	start := time.Now()
	defer func() {
		rl.recorder.Observe("floodgate.check_latency", time.Since(start).Seconds(), nil)
	}()

	if _, ok := rl.exempt[actor]; ok {
		rl.recorder.Add("floodgate.allowed", 1, map[string]string{"reason": string(ReasonExempt)})
		return Decision{Allow: true, Reason: ReasonExempt}
	}

	now := rl.clock.Now()
	counters, bans := rl.backend.Stores()

	banned, until, err := bans.IsBanned(ctx, actor, now)
	if err != nil {
		return rl.failOpen(actor, "ban lookup", err)
	}
	if banned {
		retry := until.Sub(now)
		rl.log.Warn("event denied, actor suspended",
			zap.String("actor", string(actor)),
			zap.Duration("retry_after", retry))
		rl.recorder.Add("floodgate.denied", 1, map[string]string{"reason": string(ReasonBanned)})
		return Decision{Allow: false, RetryAfter: retry, Reason: ReasonBanned}
	}
	if !until.IsZero() {
		rl.log.Info("suspension expired",
			zap.String("actor", string(actor)),
			zap.Time("was_until", until))
		rl.recorder.Add("floodgate.ban_expired", 1, nil)
	}

	count, err := counters.RecordAndCount(ctx, actor, now)
	if err != nil {
		return rl.failOpen(actor, "record", err)
	}
	if count <= rl.policy.MaxRequests {
		rl.recorder.Add("floodgate.allowed", 1, map[string]string{"reason": string(ReasonOK)})
		return Decision{Allow: true, Count: count, Reason: ReasonOK}
	}

	rl.recorder.Add("floodgate.limit_exceeded", 1, nil)

	if rl.policy.BanDuration > 0 {
		until := now.Add(rl.policy.BanDuration)
		if err := bans.Ban(ctx, actor, until); err != nil {
			// The violation is already established by the count; losing the
			// ban record must not also lose this denial.
			rl.backend.ReportFailure(err)
			rl.log.Warn("failed to persist suspension",
				zap.String("actor", string(actor)), zap.Error(err))
		} else {
			rl.log.Warn("actor suspended",
				zap.String("actor", string(actor)),
				zap.Int64("count", count),
				zap.Duration("window", rl.policy.Window),
				zap.Duration("ban_duration", rl.policy.BanDuration))
			rl.recorder.Add("floodgate.ban_imposed", 1, nil)
		}
		rl.recorder.Add("floodgate.denied", 1, map[string]string{"reason": string(ReasonLimitExceeded)})
		return Decision{Allow: false, Count: count, RetryAfter: rl.policy.BanDuration, Reason: ReasonLimitExceeded}
	}

	// Throttle-only policy: deny this event, no suspension. The retry hint
	// is when the oldest in-window event rolls out.
	retry := rl.policy.Window
	if oldest, err := counters.Oldest(ctx, actor, now); err == nil && !oldest.IsZero() {
		if d := rl.policy.Window - now.Sub(oldest); d > 0 {
			retry = d
		}
	}
	rl.log.Warn("event throttled",
		zap.String("actor", string(actor)),
		zap.Int64("count", count),
		zap.Duration("retry_after", retry))
	rl.recorder.Add("floodgate.denied", 1, map[string]string{"reason": string(ReasonThrottled)})
	return Decision{Allow: false, Count: count, RetryAfter: retry, Reason: ReasonThrottled}
}

// Reset clears both counting and ban state for the actor. It succeeds even
// when the actor has no recorded state and is safe to repeat.
func (rl *RateLimiter) Reset(ctx context.Context, actor Actor) error {
	counters, bans := rl.backend.Stores()
	if err := errors.Join(counters.Reset(ctx, actor), bans.Clear(ctx, actor)); err != nil {
		return fmt.Errorf("reset actor %s: %w", actor, err)
	}
	rl.log.Info("rate limit reset", zap.String("actor", string(actor)))
	rl.recorder.Add("floodgate.reset_applied", 1, nil)
	return nil
}

func (rl *RateLimiter) failOpen(actor Actor, op string, err error) Decision {
	rl.backend.ReportFailure(err)
	rl.log.Warn("admission check failed open",
		zap.String("actor", string(actor)),
		zap.String("op", op),
		zap.Error(err))
	rl.recorder.Add("floodgate.fail_open", 1, nil)
	return Decision{Allow: true, Reason: ReasonFailOpen}
}
