package gatehouse

import (
	"errors"
	"time"
)

var ErrURLSigningNotConfigured = errors.New("url signing secret is not configured")

// GenerateSignedURL returns basePath with the given parameters, an expiry and
// a signature appended. The URL is self-validating: no server-side state.
func GenerateSignedURL(basePath string, params map[string]string, ttl time.Duration) (string, error) {
	inst := getInstance()
	if inst == nil {
		return "", ErrNotInitialized
	}
	if inst.urlSigner == nil {
		return "", ErrURLSigningNotConfigured
	}
	return inst.urlSigner.Generate(basePath, params, ttl), nil
}

// VerifySignedURL checks the expiry and signature of a previously generated
// URL. Any changed, added or removed parameter invalidates it.
func VerifySignedURL(rawURL string) error {
	inst := getInstance()
	if inst == nil {
		return ErrNotInitialized
	}
	if inst.urlSigner == nil {
		return ErrURLSigningNotConfigured
	}
	return inst.urlSigner.Verify(rawURL)
}
