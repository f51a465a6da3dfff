package ratelimit

import (
	"context"
	"time"
)

// Outcome is a single algorithm decision for one request.
type Outcome struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// CounterStore holds per-key counter state for all algorithms. Both
// implementations (in-memory and Redis) share identical semantics so the
// limiter does not change between single-process and distributed deployments.
// Implementations must be safe for concurrent callers on the same key.
type CounterStore interface {
	// Take runs one read-modify-write of the counter for key under cfg.
	Take(ctx context.Context, key string, cfg AlgorithmConfig, now time.Time) (Outcome, error)
	// SweepExpired drops counters idle for longer than twice their window.
	// Stores with native TTLs may make this a no-op. Returns entries removed.
	SweepExpired(ctx context.Context, now time.Time) int
}

// ViolationStore tracks per-client violation counts and temporary bans.
type ViolationStore interface {
	// AddViolation increments the client's violation counter and returns the
	// new count.
	AddViolation(ctx context.Context, clientKey string, now time.Time) (int, error)
	// SetBan bans the client until the given time, replacing any earlier ban.
	SetBan(ctx context.Context, clientKey string, until time.Time) error
	// BannedUntil reports whether the client is currently banned.
	BannedUntil(ctx context.Context, clientKey string, now time.Time) (time.Time, bool, error)
	// ClearViolations resets the violation count and any ban marker. Called
	// when a ban expires.
	ClearViolations(ctx context.Context, clientKey string) error
}
