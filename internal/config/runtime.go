package config

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	gatehouseDisabled atomic.Bool
	rateLimitDisabled atomic.Bool

	mu              sync.RWMutex
	resources       = DefaultResources()
	baseDomain      string
	signatureWindow = DefaultSignatureWindow
	webhookMaxAge   = DefaultWebhookMaxAge
	burstMultiplier = DefaultBurstMultiplier
	secrets         = map[string]string{}
)

// SetGatehouseDisabled turns the whole library off. Middleware and
// interceptors pass every request through untouched.
func SetGatehouseDisabled(disabled bool) {
	gatehouseDisabled.Store(disabled)
}

func IsGatehouseDisabled() bool {
	return gatehouseDisabled.Load()
}

// SetRateLimitDisabled flips the operational escape hatch. When set, every
// rate-limit check reports allowed with unlimited remaining.
func SetRateLimitDisabled(disabled bool) {
	rateLimitDisabled.Store(disabled)
}

func IsRateLimitDisabled() bool {
	return rateLimitDisabled.Load()
}

// SetResources replaces the per-resource limit table. Unknown resources fall
// back to the "global" entry at lookup time.
func SetResources(r map[string]ResourcePolicy) {
	mu.Lock()
	defer mu.Unlock()

	resources = make(map[string]ResourcePolicy, len(r))
	for name, policy := range r {
		resources[name] = policy
	}
}

// GetResourcePolicy resolves the policy for a resource name, falling back to
// "global" and finally to the built-in default when nothing matches.
func GetResourcePolicy(resource string) ResourcePolicy {
	mu.RLock()
	defer mu.RUnlock()

	if policy, ok := resources[resource]; ok {
		return policy
	}
	if policy, ok := resources["global"]; ok {
		return policy
	}
	return ResourcePolicy{Limit: Limit{MaxRequests: 60, Window: time.Minute}, Algorithm: "sliding_window"}
}

func SetBaseDomain(domain string) {
	mu.Lock()
	defer mu.Unlock()
	baseDomain = domain
}

func GetBaseDomain() string {
	mu.RLock()
	defer mu.RUnlock()
	return baseDomain
}

func SetSignatureWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	signatureWindow = window
}

func GetSignatureWindow() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return signatureWindow
}

func SetWebhookMaxAge(maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	webhookMaxAge = maxAge
}

func GetWebhookMaxAge() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return webhookMaxAge
}

func SetBurstMultiplier(m float64) {
	if m < 1 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	burstMultiplier = m
}

func GetBurstMultiplier() float64 {
	mu.RLock()
	defer mu.RUnlock()
	return burstMultiplier
}

// SetSecrets replaces the HMAC secret table keyed by key id.
func SetSecrets(s map[string]string) {
	mu.Lock()
	defer mu.Unlock()

	secrets = make(map[string]string, len(s))
	for keyID, secret := range s {
		secrets[keyID] = secret
	}
}

// GetSecret looks up the HMAC secret for a key id.
func GetSecret(keyID string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()

	secret, ok := secrets[keyID]
	return secret, ok
}
