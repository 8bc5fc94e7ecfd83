// Package ratelimit implements client-side accounting of the venue's
// request budgets. Every send path (REST and WebSocket) reserves
// weight here before touching the transport; the venue's own 429/418
// responses are the authoritative backstop and always override local
// bookkeeping.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"venuewire/pkg/core"
)

// Action is the limiter's verdict on a reservation attempt.
type Action int

const (
	// ActionProceed means the weight was reserved and the call may go out now.
	ActionProceed Action = iota
	// ActionWait means the budget is exhausted until the window resets.
	ActionWait
	// ActionBanned means the venue imposed a ban; nothing may be sent
	// until the window elapses, regardless of bucket state.
	ActionBanned
)

// String returns the string representation of the action.
func (a Action) String() string {
	return [...]string{"PROCEED", "WAIT", "BANNED"}[a]
}

// Decision is the outcome of Reserve. Until is populated for WAIT and
// BANNED and names the earliest moment a retry can succeed.
type Decision struct {
	Action Action
	Until  time.Time
}

type bucket struct {
	def         core.RateLimit
	consumed    int
	windowStart time.Time
}

// Limiter tracks consumed weight per (limit type, interval) bucket and
// a venue-imposed ban window. A single mutex serializes all mutation;
// one Limiter instance is shared by the REST and WebSocket send paths
// of a connection.
type Limiter struct {
	mu        sync.Mutex
	buckets   []*bucket
	raw       *rate.Limiter
	banUntil  time.Time
	coolUntil time.Time
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Limiter enforcing the given budgets. RAW_REQUESTS
// entries become a token-bucket floor applied to every reservation;
// the rest become rolling weight windows.
func New(limits []core.RateLimit) *Limiter {
	l := &Limiter{
		logger: zerolog.Nop(),
		now:    time.Now,
	}

	for _, def := range limits {
		if def.Type == core.LimitRawRequests {
			rps := float64(def.Limit) / def.Window().Seconds()
			l.raw = rate.NewLimiter(rate.Limit(rps), def.Limit)
			continue
		}
		l.buckets = append(l.buckets, &bucket{def: def, windowStart: l.now()})
	}

	return l
}

// SetLogger configures the logger for the limiter.
func (l *Limiter) SetLogger(logger zerolog.Logger) {
	l.logger = logger
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	for _, b := range l.buckets {
		b.windowStart = now()
	}
	l.mu.Unlock()
}

// Reserve asks whether a call of the given weight may proceed against
// the named budget. On PROCEED the weight is already charged; WAIT and
// BANNED charge nothing.
func (l *Limiter) Reserve(weight int, limitType core.RateLimitType) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if now.Before(l.banUntil) {
		return Decision{Action: ActionBanned, Until: l.banUntil}
	}
	if now.Before(l.coolUntil) {
		return Decision{Action: ActionWait, Until: l.coolUntil}
	}

	// Roll over any elapsed windows before checking capacity.
	var worst time.Time
	for _, b := range l.buckets {
		if b.def.Type != limitType {
			continue
		}
		window := b.def.Window()
		if elapsed := now.Sub(b.windowStart); elapsed >= window {
			b.consumed = 0
			b.windowStart = b.windowStart.Add(window * (elapsed / window))
		}
		if b.consumed+weight > b.def.Limit {
			reset := b.windowStart.Add(window)
			if reset.After(worst) {
				worst = reset
			}
		}
	}
	if !worst.IsZero() {
		l.logger.Debug().
			Str("limit_type", limitType.String()).
			Int("weight", weight).
			Time("until", worst).
			Msg("rate budget exhausted")
		return Decision{Action: ActionWait, Until: worst}
	}

	if l.raw != nil {
		res := l.raw.ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			return Decision{Action: ActionWait, Until: now.Add(delay)}
		}
	}

	for _, b := range l.buckets {
		if b.def.Type == limitType {
			b.consumed += weight
		}
	}
	return Decision{Action: ActionProceed}
}

// Wait blocks until a reservation of the given weight succeeds or the
// context is cancelled. This is the REST executor's suspension point.
func (l *Limiter) Wait(ctx context.Context, weight int, limitType core.RateLimitType) error {
	for {
		d := l.Reserve(weight, limitType)
		if d.Action == ActionProceed {
			return nil
		}

		pause := time.Until(d.Until)
		if pause < 0 {
			pause = 0
		}
		if d.Action == ActionBanned {
			l.logger.Warn().Time("until", d.Until).Msg("sends suppressed by ban window")
		}

		timer := time.NewTimer(pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// RecordRejection ingests a throttling response from the venue. 418
// opens a ban window; 429 imposes a cooldown. Server rejections may
// only lengthen existing waits, never shorten them.
func (l *Limiter) RecordRejection(statusCode int, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	until := now.Add(retryAfter)

	switch statusCode {
	case http.StatusTeapot:
		if until.After(l.banUntil) {
			l.banUntil = until
			l.logger.Warn().Time("until", until).Msg("venue issued ip ban")
		}
	case http.StatusTooManyRequests:
		if until.After(l.coolUntil) {
			l.coolUntil = until
			l.logger.Warn().Time("until", until).Msg("venue rejected for rate limit")
		}
		// Local accounting under-counted; saturate the current windows
		// so nothing else slips out before the cooldown.
		for _, b := range l.buckets {
			b.consumed = b.def.Limit
		}
	}
}

// SyncUsage overwrites local consumption with counts reported by the
// venue, either from response headers or a WS rateLimits payload. The
// venue's numbers are authoritative in both directions.
func (l *Limiter) SyncUsage(reports []core.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rep := range reports {
		for _, b := range l.buckets {
			if b.def.Type == rep.Type &&
				b.def.Interval == rep.Interval &&
				b.def.IntervalNum == rep.IntervalNum {
				b.consumed = rep.Count
			}
		}
	}
}

// BannedUntil returns the active ban window end, if one is in force.
func (l *Limiter) BannedUntil() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.now().Before(l.banUntil) {
		return l.banUntil, true
	}
	return time.Time{}, false
}

// Usage returns a snapshot of the tracked buckets with current counts.
func (l *Limiter) Usage() []core.RateLimit {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]core.RateLimit, 0, len(l.buckets))
	for _, b := range l.buckets {
		rep := b.def
		rep.Count = b.consumed
		out = append(out, rep)
	}
	return out
}
