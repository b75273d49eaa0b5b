// Package ratelimit enforces fixed-window request limits per actor, channel and mode.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Mode selects which limit policy applies to a request.
type Mode string

const (
	ModeOnDemandDM      Mode = "on_demand_dm"
	ModeOnDemandChannel Mode = "on_demand_channel"
	ModeAutoDM          Mode = "auto_dm"
	ModeAutoMention     Mode = "auto_mention"
)

var (
	ErrUnknownMode = errors.New("unknown rate limit mode")
	ErrPersistence = errors.New("rate limit store unavailable")
)

// Policy is a fixed window: at most Limit admissions per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Valid reports whether the policy can admit anything at all.
func (p Policy) Valid() bool {
	return p.Limit > 0 && p.Window > 0
}

// DefaultPolicies returns the built-in limits for each mode.
func DefaultPolicies() map[Mode]Policy {
	return map[Mode]Policy{
		ModeOnDemandDM:      {Limit: 2, Window: 10 * time.Minute},
		ModeOnDemandChannel: {Limit: 3, Window: 60 * time.Minute},
		ModeAutoDM:          {Limit: 1, Window: 3 * time.Minute},
		ModeAutoMention:     {Limit: 2, Window: 10 * time.Minute},
	}
}

// ModeFor picks the mode for a request.
func ModeFor(onDemand, isDM bool) Mode {
	switch {
	case onDemand && isDM:
		return ModeOnDemandDM
	case onDemand:
		return ModeOnDemandChannel
	case isDM:
		return ModeAutoDM
	default:
		return ModeAutoMention
	}
}

// Key identifies one counter.
type Key struct {
	ActorID   string
	ChannelID string
	Mode      Mode
}

// Counter is the stored window for one key.
type Counter struct {
	Key          Key
	WindowStart  time.Time
	WindowExpiry time.Time
	Count        int
}

// Live reports whether the window is still open at now.
func (c Counter) Live(now time.Time) bool {
	return c.WindowExpiry.After(now)
}

// Store performs the check-and-increment as one atomic step. It returns the
// counter after the operation and whether the request was admitted. A denied
// request must leave the counter unchanged.
type Store interface {
	Admit(ctx context.Context, key Key, policy Policy, now time.Time) (Counter, bool, error)
}

// Pruner drops counters whose window expired before cutoff.
type Pruner interface {
	PruneRateLimits(ctx context.Context, cutoff time.Time) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted     bool
	Mode         Mode
	Count        int
	Limit        int
	WindowExpiry time.Time
	RetryAfter   time.Duration
}

// Limiter applies per-mode policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[Mode]Policy
}

// NewLimiter creates a limiter. Invalid overrides are ignored so a bad config
// value never disables limiting.
func NewLimiter(store Store, overrides map[Mode]Policy) *Limiter {
	policies := DefaultPolicies()
	for mode, p := range overrides {
		if _, known := policies[mode]; !known {
			slog.Warn("Ignoring rate limit override for unknown mode", "mode", mode)
			continue
		}
		if !p.Valid() {
			slog.Warn("Ignoring invalid rate limit override", "mode", mode, "limit", p.Limit, "window", p.Window)
			continue
		}
		policies[mode] = p
	}
	return &Limiter{store: store, policies: policies}
}

// Policy returns the active policy for mode.
func (l *Limiter) Policy(mode Mode) (Policy, bool) {
	p, ok := l.policies[mode]
	return p, ok
}

// Admit checks and consumes one unit of the actor's window. A store failure
// is returned as an error wrapping ErrPersistence and must be treated as a
// denial by callers.
func (l *Limiter) Admit(ctx context.Context, actorID, channelID string, mode Mode, now time.Time) (Decision, error) {
	p, ok := l.policies[mode]
	if !ok {
		return Decision{Mode: mode}, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	key := Key{ActorID: actorID, ChannelID: channelID, Mode: mode}
	c, admitted, err := l.store.Admit(ctx, key, p, now)
	if err != nil {
		return Decision{Mode: mode, Limit: p.Limit}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	d := Decision{
		Admitted:     admitted,
		Mode:         mode,
		Count:        c.Count,
		Limit:        p.Limit,
		WindowExpiry: c.WindowExpiry,
	}
	if !admitted && c.WindowExpiry.After(now) {
		d.RetryAfter = c.WindowExpiry.Sub(now)
	}
	return d, nil
}
