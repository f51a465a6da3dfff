package signing

import "errors"

// Verification failures. All are terminal for the presented request: the
// client must produce a freshly signed request, not retry.
var (
	ErrSignatureMissing     = errors.New("signature headers missing")
	ErrSignatureInvalid     = errors.New("signature mismatch")
	ErrVersionUnsupported   = errors.New("unsupported signature version")
	ErrTimestampMalformed   = errors.New("malformed signature timestamp")
	ErrTimestampOutOfWindow = errors.New("signature timestamp outside allowed window")
	ErrNonceReplay          = errors.New("nonce already used")
	ErrUnknownKeyID         = errors.New("unknown signing key id")
)

// IsAuthError reports whether err is one of the typed verification failures,
// as opposed to an infrastructure error (e.g. the replay store being down).
func IsAuthError(err error) bool {
	for _, target := range []error{
		ErrSignatureMissing, ErrSignatureInvalid, ErrVersionUnsupported,
		ErrTimestampMalformed, ErrTimestampOutOfWindow, ErrNonceReplay, ErrUnknownKeyID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
