// Package ratelimit implements the multi-algorithm rate limiter core:
// pluggable algorithms over a shared counter store, violation tracking and
// temporary bans. Counter state lives either in process memory or in Redis
// behind the same CounterStore interface.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
	"github.com/gatehouse-security/gatehouse-go/internal/log"
)

// Ban thresholds. The counts are cumulative per client until the ban expires.
const (
	banThresholdShort = 5
	banDurationShort  = 300 * time.Second
	banThresholdLong  = 10
	banDurationLong   = 3600 * time.Second
)

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Remaining  int // -1 means unlimited (limiting disabled)
	Limit      int
	RetryAfter time.Duration
	Banned     bool
	Window     time.Duration
}

// Limiter checks requests against per-resource limits. Safe for concurrent
// use. On store errors it degrades to the in-memory fallback with a logged
// warning rather than silently failing open.
type Limiter struct {
	counters   CounterStore
	violations ViolationStore
	fallback   *MemoryStore
	now        func() time.Time
}

type LimiterOption func(*Limiter)

// WithClock overrides the limiter's clock. Tests use this to move time.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter builds a limiter over the given stores. Passing nil for either
// store selects the in-memory implementation.
func NewLimiter(counters CounterStore, violations ViolationStore, opts ...LimiterOption) *Limiter {
	fallback := NewMemoryStore()
	if counters == nil {
		counters = fallback
	}
	if violations == nil {
		violations = fallback
	}

	l := &Limiter{
		counters:   counters,
		violations: violations,
		fallback:   fallback,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check decides whether one request by clientKey against resource is allowed.
// A currently banned client is denied without consulting the algorithm.
func (l *Limiter) Check(ctx context.Context, clientKey, resource string) (Result, error) {
	policy := config.GetResourcePolicy(resource)
	cfg, err := configForPolicy(policy, config.GetBurstMultiplier())
	if err != nil {
		return Result{}, err
	}

	max, window := cfg.Limit()
	result := Result{Limit: max, Window: window}

	if config.IsRateLimitDisabled() {
		result.Allowed = true
		result.Remaining = -1
		return result, nil
	}

	now := l.now()

	if until, banned := l.bannedUntil(ctx, clientKey, now); banned {
		result.Banned = true
		result.RetryAfter = until.Sub(now)
		return result, nil
	}

	key := buildKey(resource, clientKey)
	outcome, err := l.counters.Take(ctx, key, cfg, now)
	if err != nil {
		log.Warn("counter store unavailable, falling back to in-memory",
			slog.String("resource", resource), slog.String("error", err.Error()))

		outcome, err = l.fallback.Take(ctx, key, cfg, now)
		if err != nil {
			if policy.FailOpen {
				result.Allowed = true
				result.Remaining = -1
				return result, nil
			}
			result.RetryAfter = window
			return result, ErrBackendUnavailable
		}
	}

	result.Allowed = outcome.Allowed
	result.Remaining = outcome.Remaining
	result.RetryAfter = outcome.RetryAfter
	return result, nil
}

// RecordViolation bumps the client's violation counter and applies bans at
// the thresholds. Call it once per denied request; the limiter itself never
// records, so violations are not double-counted.
func (l *Limiter) RecordViolation(ctx context.Context, clientKey string) {
	now := l.now()

	count, err := l.violations.AddViolation(ctx, clientKey, now)
	if err != nil {
		log.Warn("violation store unavailable, falling back to in-memory",
			slog.String("error", err.Error()))
		count, err = l.fallback.AddViolation(ctx, clientKey, now)
		if err != nil {
			return
		}
	}

	var duration time.Duration
	switch {
	case count >= banThresholdLong:
		duration = banDurationLong
	case count >= banThresholdShort:
		duration = banDurationShort
	default:
		return
	}

	until := now.Add(duration)
	if err := l.setBan(ctx, clientKey, until); err != nil {
		log.Warn("failed to set ban", slog.String("error", err.Error()))
		return
	}
	log.Info("client banned",
		slog.String("client", clientKey),
		slog.Int("violations", count),
		slog.Time("until", until))
}

func (l *Limiter) bannedUntil(ctx context.Context, clientKey string, now time.Time) (time.Time, bool) {
	until, banned, err := l.violations.BannedUntil(ctx, clientKey, now)
	if err != nil {
		log.Warn("ban lookup failed, falling back to in-memory", slog.String("error", err.Error()))
		until, banned, _ = l.fallback.BannedUntil(ctx, clientKey, now)
	}
	return until, banned
}

func (l *Limiter) setBan(ctx context.Context, clientKey string, until time.Time) error {
	if err := l.violations.SetBan(ctx, clientKey, until); err != nil {
		return l.fallback.SetBan(ctx, clientKey, until)
	}
	return nil
}
