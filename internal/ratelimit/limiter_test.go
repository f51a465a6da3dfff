package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func withResources(t *testing.T, r map[string]config.ResourcePolicy) {
	t.Helper()
	config.SetResources(r)
	t.Cleanup(func() { config.SetResources(config.DefaultResources()) })
}

func TestLimiter_ChecksResourcePolicy(t *testing.T) {
	withResources(t, map[string]config.ResourcePolicy{
		"auth": {Limit: config.Limit{MaxRequests: 2, Window: time.Minute}, Algorithm: "sliding_window"},
	})

	now, _ := fakeClock(t0)
	limiter := NewLimiter(nil, nil, WithClock(now))
	ctx := context.Background()

	for n := 0; n < 2; n++ {
		result, err := limiter.Check(ctx, "user:abc", "auth")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2, result.Limit)
	}

	result, err := limiter.Check(ctx, "user:abc", "auth")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// A different client has its own budget.
	result, err = limiter.Check(ctx, "user:other", "auth")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestLimiter_DisabledFlag(t *testing.T) {
	withResources(t, map[string]config.ResourcePolicy{
		"auth": {Limit: config.Limit{MaxRequests: 1, Window: time.Minute}, Algorithm: "sliding_window"},
	})
	config.SetRateLimitDisabled(true)
	t.Cleanup(func() { config.SetRateLimitDisabled(false) })

	limiter := NewLimiter(nil, nil)
	ctx := context.Background()

	for n := 0; n < 10; n++ {
		result, err := limiter.Check(ctx, "user:abc", "auth")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, -1, result.Remaining, "disabled limiter reports unlimited remaining")
	}
}

func TestLimiter_InvalidConfig(t *testing.T) {
	withResources(t, map[string]config.ResourcePolicy{
		"broken": {Limit: config.Limit{MaxRequests: 0, Window: time.Minute}},
		"global": {Limit: config.Limit{MaxRequests: 0, Window: 0}},
	})

	limiter := NewLimiter(nil, nil)
	_, err := limiter.Check(context.Background(), "user:abc", "broken")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLimiter_BanEscalation(t *testing.T) {
	withResources(t, map[string]config.ResourcePolicy{
		"auth": {Limit: config.Limit{MaxRequests: 1, Window: time.Minute}, Algorithm: "sliding_window"},
	})

	now, advance := fakeClock(t0)
	limiter := NewLimiter(nil, nil, WithClock(now))
	ctx := context.Background()

	// Five violations trigger the short ban.
	for n := 0; n < 5; n++ {
		limiter.RecordViolation(ctx, "user:abc")
	}

	result, err := limiter.Check(ctx, "user:abc", "auth")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, result.Banned)
	assert.InDelta(t, 300, result.RetryAfter.Seconds(), 1)

	// Violations keep accruing while banned; at ten the ban escalates.
	for n := 0; n < 5; n++ {
		limiter.RecordViolation(ctx, "user:abc")
	}

	result, err = limiter.Check(ctx, "user:abc", "auth")
	require.NoError(t, err)
	assert.True(t, result.Banned)
	assert.InDelta(t, 3600, result.RetryAfter.Seconds(), 1)

	// After ban expiry the client gets a fresh start.
	advance(3601 * time.Second)
	result, err = limiter.Check(ctx, "user:abc", "auth")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.False(t, result.Banned)
}

// failingStore simulates an unreachable shared store.
type failingStore struct{}

var errStoreDown = errors.New("connection refused")

func (failingStore) Take(context.Context, string, AlgorithmConfig, time.Time) (Outcome, error) {
	return Outcome{}, errStoreDown
}
func (failingStore) SweepExpired(context.Context, time.Time) int { return 0 }
func (failingStore) AddViolation(context.Context, string, time.Time) (int, error) {
	return 0, errStoreDown
}
func (failingStore) SetBan(context.Context, string, time.Time) error { return errStoreDown }
func (failingStore) BannedUntil(context.Context, string, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, errStoreDown
}
func (failingStore) ClearViolations(context.Context, string) error { return errStoreDown }

func TestLimiter_FallsBackToMemoryOnStoreError(t *testing.T) {
	withResources(t, map[string]config.ResourcePolicy{
		"auth": {Limit: config.Limit{MaxRequests: 2, Window: time.Minute}, Algorithm: "sliding_window"},
	})

	now, _ := fakeClock(t0)
	limiter := NewLimiter(failingStore{}, failingStore{}, WithClock(now))
	ctx := context.Background()

	// The fallback memory store still enforces the limit.
	for n := 0; n < 2; n++ {
		result, err := limiter.Check(ctx, "user:abc", "auth")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}
	result, err := limiter.Check(ctx, "user:abc", "auth")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// Violations and bans survive on the fallback too.
	for n := 0; n < 5; n++ {
		limiter.RecordViolation(ctx, "user:abc")
	}
	result, err = limiter.Check(ctx, "user:abc", "auth")
	require.NoError(t, err)
	assert.True(t, result.Banned)
}

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"token_bucket", "sliding_window", "fixed_window", "leaky_bucket"} {
		algorithm, err := ParseAlgorithm(name)
		require.NoError(t, err)
		assert.Equal(t, Algorithm(name), algorithm)
	}

	algorithm, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, SlidingWindow, algorithm, "empty name selects the default")

	_, err = ParseAlgorithm("magic")
	require.ErrorIs(t, err, ErrInvalidConfig)
}
