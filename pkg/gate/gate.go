package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kelechio/floodgate/pkg/limiter"
)

// Handler consumes an admitted update.
type Handler func(ctx context.Context, u *Update) error

// Notifier tells a denied actor when to retry, through whatever reply
// mechanism the transport offers. Notifier failures are logged and
// swallowed; a broken reply channel must not affect admission.
type Notifier interface {
	NotifyDenied(ctx context.Context, u *Update, retryAfter time.Duration) error
}

// Gate is the per-event entry point of the abuse-protection layer.
type Gate struct {
	limiter  *limiter.RateLimiter
	next     Handler
	log      *zap.Logger
	notifier Notifier
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger attaches a logger for admission decisions.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// WithNotifier enables best-effort retry-after notices to denied actors.
func WithNotifier(n Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

// New builds a gate forwarding admitted updates to next.
func New(rl *limiter.RateLimiter, next Handler, opts ...Option) *Gate {
	g := &Gate{
		limiter: rl,
		next:    next,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle admits or drops one inbound update and reports the decision.
//
// Updates without an extractable actor bypass rate limiting and are
// forwarded. Denied updates are dropped without error: a drop is a policy
// outcome, not a pipeline failure. The returned error is the downstream
// handler's, never the limiter's.
func (g *Gate) Handle(ctx context.Context, u *Update) (limiter.Decision, error) {
	actor, ok := u.ActorID()
	if !ok {
		g.log.Debug("unattributable update forwarded without rate limiting")
		return limiter.Decision{Allow: true, Reason: limiter.ReasonUnattributed}, g.next(ctx, u)
	}

	dec := g.limiter.Check(ctx, actor)
	if dec.Allow {
		return dec, g.next(ctx, u)
	}

	g.log.Warn("update dropped",
		zap.String("actor", string(actor)),
		zap.String("reason", string(dec.Reason)),
		zap.Int64("count", dec.Count),
		zap.Duration("retry_after", dec.RetryAfter))

	if g.notifier != nil {
		if err := g.notifier.NotifyDenied(ctx, u, dec.RetryAfter); err != nil {
			g.log.Debug("deny notice failed", zap.String("actor", string(actor)), zap.Error(err))
		}
	}
	return dec, nil
}

// ResetLimit clears all rate-limit state for the actor, for administrative
// command handlers. Idempotent; succeeds when the actor has no state.
func (g *Gate) ResetLimit(ctx context.Context, actor limiter.Actor) error {
	return g.limiter.Reset(ctx, actor)
}
