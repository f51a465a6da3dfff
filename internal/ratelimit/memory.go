package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryStore is the in-process CounterStore and ViolationStore. Correct for a
// single-process deployment and as the degraded fallback when a shared store
// is unreachable; multi-process deployments need the Redis store.
type MemoryStore struct {
	mu         sync.Mutex
	counters   map[string]*counter
	violations map[string]*violation

	sweepEvery time.Duration
	lastSweep  time.Time
}

type counter struct {
	mu       sync.Mutex
	lastSeen time.Time
	ttl      time.Duration

	// token bucket / leaky bucket
	tokens  float64
	level   float64
	stamp   time.Time
	started bool

	// sliding window: exact timestamps in the trailing window
	timestamps []time.Time

	// fixed window
	windowID int64
	count    int
}

type violation struct {
	count       int
	bannedUntil time.Time
	lastSeen    time.Time
}

type MemoryOption func(*MemoryStore)

// WithSweepEvery sets how often Take runs an inline sweep of expired entries.
func WithSweepEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		counters:   make(map[string]*counter),
		violations: make(map[string]*violation),
		sweepEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Take(_ context.Context, key string, cfg AlgorithmConfig, now time.Time) (Outcome, error) {
	_, window := cfg.Limit()

	s.mu.Lock()
	c, ok := s.counters[key]
	if !ok {
		c = &counter{ttl: 2 * window}
		s.counters[key] = c
	}
	c.lastSeen = now
	shouldSweep := s.sweepEvery > 0 && now.Sub(s.lastSweep) >= s.sweepEvery
	if shouldSweep {
		s.lastSweep = now
	}
	s.mu.Unlock()

	if shouldSweep {
		s.SweepExpired(context.Background(), now)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch cfg := cfg.(type) {
	case TokenBucketConfig:
		return c.takeToken(cfg, now), nil
	case SlidingWindowConfig:
		return c.takeSliding(cfg, now), nil
	case FixedWindowConfig:
		return c.takeFixed(cfg, now), nil
	case LeakyBucketConfig:
		return c.takeLeaky(cfg, now), nil
	}
	return Outcome{}, ErrInvalidConfig
}

func (c *counter) takeToken(cfg TokenBucketConfig, now time.Time) Outcome {
	capacity := cfg.capacity()
	if !c.started {
		c.tokens = capacity
		c.started = true
	} else {
		elapsed := now.Sub(c.stamp).Seconds()
		if elapsed > 0 {
			refill := elapsed / cfg.Window.Seconds() * float64(cfg.MaxRequests)
			c.tokens = math.Min(capacity, c.tokens+refill)
		}
	}
	c.stamp = now

	if c.tokens >= 1 {
		c.tokens--
		return Outcome{Allowed: true, Remaining: int(math.Floor(c.tokens))}
	}

	retry := (1 - c.tokens) / float64(cfg.MaxRequests) * cfg.Window.Seconds()
	return Outcome{RetryAfter: secondsToDuration(retry)}
}

func (c *counter) takeSliding(cfg SlidingWindowConfig, now time.Time) Outcome {
	windowStart := now.Add(-cfg.Window)

	// Expire timestamps that fell out of the trailing window.
	cutoff := 0
	for cutoff < len(c.timestamps) && !c.timestamps[cutoff].After(windowStart) {
		cutoff++
	}
	c.timestamps = c.timestamps[cutoff:]

	if len(c.timestamps) >= cfg.MaxRequests {
		oldest := c.timestamps[0]
		return Outcome{RetryAfter: cfg.Window - now.Sub(oldest)}
	}

	c.timestamps = append(c.timestamps, now)
	return Outcome{Allowed: true, Remaining: cfg.MaxRequests - len(c.timestamps)}
}

func (c *counter) takeFixed(cfg FixedWindowConfig, now time.Time) Outcome {
	id := now.UnixNano() / int64(cfg.Window)
	if id != c.windowID {
		c.windowID = id
		c.count = 0
	}

	if c.count >= cfg.MaxRequests {
		windowEnd := time.Unix(0, (id+1)*int64(cfg.Window))
		return Outcome{RetryAfter: windowEnd.Sub(now)}
	}

	c.count++
	return Outcome{Allowed: true, Remaining: cfg.MaxRequests - c.count}
}

func (c *counter) takeLeaky(cfg LeakyBucketConfig, now time.Time) Outcome {
	leakPerSecond := float64(cfg.MaxRequests) / cfg.Window.Seconds()
	if c.started {
		elapsed := now.Sub(c.stamp).Seconds()
		if elapsed > 0 {
			c.level = math.Max(0, c.level-elapsed*leakPerSecond)
		}
	}
	c.started = true
	c.stamp = now

	if c.level >= float64(cfg.MaxRequests) {
		overflow := c.level - float64(cfg.MaxRequests) + 1
		return Outcome{RetryAfter: secondsToDuration(overflow / leakPerSecond)}
	}

	c.level++
	return Outcome{Allowed: true, Remaining: int(float64(cfg.MaxRequests) - c.level)}
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if now.Sub(c.lastSeen) > c.ttl {
			delete(s.counters, key)
			removed++
		}
	}
	for key, v := range s.violations {
		if !v.bannedUntil.IsZero() && now.After(v.bannedUntil) && now.Sub(v.lastSeen) > time.Hour {
			delete(s.violations, key)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired entries periodically until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.SweepExpired(ctx, now)
			}
		}
	}()
}

func (s *MemoryStore) AddViolation(_ context.Context, clientKey string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[clientKey]
	if !ok {
		v = &violation{}
		s.violations[clientKey] = v
	}
	v.count++
	v.lastSeen = now
	return v.count, nil
}

func (s *MemoryStore) SetBan(_ context.Context, clientKey string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[clientKey]
	if !ok {
		v = &violation{}
		s.violations[clientKey] = v
	}
	v.bannedUntil = until
	return nil
}

func (s *MemoryStore) BannedUntil(_ context.Context, clientKey string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[clientKey]
	if !ok || v.bannedUntil.IsZero() {
		return time.Time{}, false, nil
	}
	if !v.bannedUntil.After(now) {
		// Ban expiry clears the violation count so the next cycle starts fresh.
		delete(s.violations, clientKey)
		return time.Time{}, false, nil
	}
	return v.bannedUntil, true, nil
}

func (s *MemoryStore) ClearViolations(_ context.Context, clientKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.violations, clientKey)
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
