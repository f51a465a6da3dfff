// Package config holds the process-wide runtime configuration: the rate-limit
// kill switch, per-resource limits, signing windows and HMAC secrets. State is
// set once at init time and read from request handlers, so accessors are
// mutex-guarded.
package config

import "time"

// Limit is a request budget: MaxRequests per Window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// ResourcePolicy is the per-resource rate-limit configuration resolved by
// resource name at check time.
type ResourcePolicy struct {
	Limit     Limit
	Algorithm string // algorithm name, validated by the ratelimit package
	FailOpen  bool   // allow when no backend can decide; default is deny
}

const (
	DefaultSignatureWindow = 300 * time.Second
	DefaultWebhookMaxAge   = 300 * time.Second
	DefaultBurstMultiplier = 1.5
)

// DefaultResources are the built-in per-resource limits. They are a starting
// point, not literals baked into call sites: SetResources overrides them.
func DefaultResources() map[string]ResourcePolicy {
	return map[string]ResourcePolicy{
		"global":    {Limit: Limit{MaxRequests: 60, Window: time.Minute}, Algorithm: "sliding_window"},
		"api":       {Limit: Limit{MaxRequests: 100, Window: time.Minute}, Algorithm: "sliding_window"},
		"auth":      {Limit: Limit{MaxRequests: 5, Window: time.Minute}, Algorithm: "sliding_window"},
		"expensive": {Limit: Limit{MaxRequests: 10, Window: time.Minute}, Algorithm: "token_bucket"},
	}
}
