// Package limiter provides local and distributed abuse protection based on
// sliding-window counting with temporary bans.
//
// The primary entry point is the RateLimiter policy engine:
//
//	dec := rl.Check(ctx, actor)
//
// The returned Decision says whether the event is allowed, the actor's
// in-window count, and a retry hint for callers that want to tell the actor
// when to come back.
//
// # Overview
//
// Each actor owns an ordered sequence of event timestamps. A check appends
// the current event, discards everything older than the trailing window,
// and compares the resulting count against the policy:
//
//   - count <= MaxRequests: the event is allowed.
//   - count > MaxRequests: the event is denied; with a non-zero BanDuration
//     the actor is also suspended, and every event until the suspension
//     lapses is denied without further counting.
//
// Unlike token buckets, the sliding window maps directly onto the question
// operators actually ask ("how many events did this actor send in the last
// minute"), and the ban layer adds a coarser penalty on top: BanDuration 0
// throttles softly, a positive one escalates to temporary exclusion.
//
// # Core Types
//
// Policy defines the rules: MaxRequests per Window, BanDuration on
// violation, and the exemption list (actors that bypass every check and
// never touch store state).
//
// Actor defines "who" is being limited; ActorID converts the numeric user
// ids messaging platforms hand out.
//
// # Backends
//
// Counting and ban state live behind two small interfaces, CounterStore and
// BanStore, each with two implementations:
//
//   - LocalCounterStore / LocalBanStore: in-process, sharded by actor so
//     unrelated actors never contend on one lock. State is local to the
//     process; a multi-replica deployment enforces per-replica budgets.
//
//   - RedisCounterStore / RedisBanStore: shared across instances. The
//     counter runs prune+record+count as one Lua script so concurrent
//     checks cannot interleave between the prune and the count; ban writes
//     go through a script that extends but never shortens a suspension.
//
// # Degradation
//
// Supervisor ties the two pairs together. It starts Connected (shared pair
// active); the first failed or timed-out shared operation degrades to the
// local pair and a background probe loop pings Redis with capped
// exponential backoff until it answers, at which point subsequent checks
// use the shared pair again. Counts accumulated locally during the outage
// stay local; the backends own disjoint state.
//
// Deployments without Redis skip the Supervisor entirely and wire the local
// pair through StaticBackend.
//
// # Fail-Open Policy
//
// A connectivity error inside a check is never surfaced to the event
// pipeline. The check reports the failure for degradation and allows that
// one event. This is a deliberate trade-off: during an infrastructure
// hiccup, admitting a burst of legitimate traffic is preferred over wrongly
// suspending real users. Deployments that must fail closed should front the
// limiter with their own circuit breaker.
//
// # Concurrency
//
// Check may be called from any number of goroutines. For a single actor the
// count is best-effort rather than linearizable: two events in the same
// instant may both observe a pre-increment count and both be admitted.
// Over-admission under races is bounded and accepted; the limiter is never
// stricter than configured.
//
// # Storage Details
//
// Redis keys are prefixed with "rate_limit:" (configurable via WithPrefix):
//
//	rate_limit:{actor}:requests   sorted set of events, scored by unix time
//	rate_limit:{actor}:banned     suspension deadline in unix seconds
//
// The requests key expires a minute after the window so abandoned actors
// self-clean; the ban key expires with the suspension.
package limiter
