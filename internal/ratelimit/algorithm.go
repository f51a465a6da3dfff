package ratelimit

import (
	"fmt"
	"math"
	"time"

	"github.com/gatehouse-security/gatehouse-go/internal/config"
)

// Algorithm selects the counting strategy for a resource.
type Algorithm string

const (
	// TokenBucket allows bursts up to capacity with continuous refill.
	TokenBucket Algorithm = "token_bucket"
	// SlidingWindow counts exact request timestamps in the trailing window.
	// Most accurate; the default for most resources.
	SlidingWindow Algorithm = "sliding_window"
	// FixedWindow counts per floor(now/window) bucket. O(1), but allows up to
	// 2x the limit across a window boundary. That weakness is documented and
	// kept; pick sliding_window where it matters.
	FixedWindow Algorithm = "fixed_window"
	// LeakyBucket drains at a constant rate, smoothing the acceptance rate.
	LeakyBucket Algorithm = "leaky_bucket"
)

// ParseAlgorithm validates an algorithm name from configuration.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case TokenBucket, SlidingWindow, FixedWindow, LeakyBucket:
		return Algorithm(name), nil
	case "":
		return SlidingWindow, nil
	}
	return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, name)
}

// AlgorithmConfig is the per-algorithm parameter set, one concrete type per
// algorithm so parameters stay typed instead of living in a loose map.
type AlgorithmConfig interface {
	Algorithm() Algorithm
	// Limit returns the shared (maxRequests, window) pair.
	Limit() (int, time.Duration)
}

type TokenBucketConfig struct {
	MaxRequests     int
	Window          time.Duration
	BurstMultiplier float64 // capacity = MaxRequests * BurstMultiplier
}

func (TokenBucketConfig) Algorithm() Algorithm          { return TokenBucket }
func (c TokenBucketConfig) Limit() (int, time.Duration) { return c.MaxRequests, c.Window }

func (c TokenBucketConfig) capacity() float64 {
	m := c.BurstMultiplier
	if m < 1 {
		m = config.DefaultBurstMultiplier
	}
	return math.Floor(float64(c.MaxRequests) * m)
}

type SlidingWindowConfig struct {
	MaxRequests int
	Window      time.Duration
}

func (SlidingWindowConfig) Algorithm() Algorithm          { return SlidingWindow }
func (c SlidingWindowConfig) Limit() (int, time.Duration) { return c.MaxRequests, c.Window }

type FixedWindowConfig struct {
	MaxRequests int
	Window      time.Duration
}

func (FixedWindowConfig) Algorithm() Algorithm          { return FixedWindow }
func (c FixedWindowConfig) Limit() (int, time.Duration) { return c.MaxRequests, c.Window }

type LeakyBucketConfig struct {
	MaxRequests int
	Window      time.Duration
}

func (LeakyBucketConfig) Algorithm() Algorithm          { return LeakyBucket }
func (c LeakyBucketConfig) Limit() (int, time.Duration) { return c.MaxRequests, c.Window }

// configForPolicy resolves a resource policy into its typed algorithm config.
func configForPolicy(policy config.ResourcePolicy, burstMultiplier float64) (AlgorithmConfig, error) {
	if policy.Limit.MaxRequests <= 0 || policy.Limit.Window <= 0 {
		return nil, fmt.Errorf("%w: maxRequests and window must be positive", ErrInvalidConfig)
	}

	algorithm, err := ParseAlgorithm(policy.Algorithm)
	if err != nil {
		return nil, err
	}

	max, window := policy.Limit.MaxRequests, policy.Limit.Window
	switch algorithm {
	case TokenBucket:
		return TokenBucketConfig{MaxRequests: max, Window: window, BurstMultiplier: burstMultiplier}, nil
	case FixedWindow:
		return FixedWindowConfig{MaxRequests: max, Window: window}, nil
	case LeakyBucket:
		return LeakyBucketConfig{MaxRequests: max, Window: window}, nil
	default:
		return SlidingWindowConfig{MaxRequests: max, Window: window}, nil
	}
}
