// Package signing implements HMAC request signing and verification over a
// canonical request serialization, with replay protection via single-use
// nonces. The signature value is versioned ("v1:<base64 hmac>") so the
// canonicalization can evolve without breaking verifiers.
package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

const signatureVersion = "v1"

// KeyLookup resolves a key id to its HMAC secret. Supplied by the host
// application, typically backed by a database or secret manager.
type KeyLookup func(keyID string) (secret string, ok bool)

// HeaderNames are the header names carrying the signature material.
type HeaderNames struct {
	Signature string
	Timestamp string
	Nonce     string
	KeyID     string
}

func DefaultHeaderNames() HeaderNames {
	return HeaderNames{
		Signature: "X-Signature",
		Timestamp: "X-Timestamp",
		Nonce:     "X-Nonce",
		KeyID:     "X-Key-Id",
	}
}

// Signer signs and verifies requests. Safe for concurrent use.
type Signer struct {
	keys    KeyLookup
	nonces  NonceStore
	headers HeaderNames
	window  time.Duration
	hashFn  func() hash.Hash
	now     func() time.Time
}

type SignerOption func(*Signer) error

// WithDigest selects the HMAC digest. Supported: sha256 (default), sha384,
// sha512, sha3-256, sha3-512.
func WithDigest(name string) SignerOption {
	return func(s *Signer) error {
		fn, err := digestByName(name)
		if err != nil {
			return err
		}
		s.hashFn = fn
		return nil
	}
}

// WithTimeWindow sets the accepted clock skew for timestamps (default 300s).
func WithTimeWindow(window time.Duration) SignerOption {
	return func(s *Signer) error {
		if window <= 0 {
			return fmt.Errorf("time window must be positive")
		}
		s.window = window
		return nil
	}
}

// WithHeaderNames overrides the default signature header names.
func WithHeaderNames(names HeaderNames) SignerOption {
	return func(s *Signer) error {
		s.headers = names
		return nil
	}
}

// WithSignerClock overrides the clock, for tests.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) error {
		s.now = now
		return nil
	}
}

func NewSigner(keys KeyLookup, nonces NonceStore, opts ...SignerOption) (*Signer, error) {
	if keys == nil {
		return nil, fmt.Errorf("key lookup is required")
	}
	if nonces == nil {
		nonces = NewMemoryNonceStore()
	}

	s := &Signer{
		keys:    keys,
		nonces:  nonces,
		headers: DefaultHeaderNames(),
		window:  300 * time.Second,
		hashFn:  sha256.New,
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func digestByName(name string) (func() hash.Hash, error) {
	switch strings.ToLower(name) {
	case "", "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	case "sha3-256":
		return sha3.New256, nil
	case "sha3-512":
		return sha3.New512, nil
	}
	return nil, fmt.Errorf("unsupported digest %q", name)
}

// SignOptions carries the request fields to sign. Timestamp and Nonce are
// generated when zero/empty.
type SignOptions struct {
	KeyID     string
	Method    string
	Path      string
	Query     url.Values
	Headers   http.Header
	Body      []byte
	Timestamp time.Time
	Nonce     string
}

// Sign computes the signature headers for a request.
func (s *Signer) Sign(opts SignOptions) (http.Header, error) {
	secret, ok := s.keys(opts.KeyID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, opts.KeyID)
	}

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	timestamp := ts.Unix()

	nonce := opts.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}

	headers := opts.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	normalizeContentLength(headers, opts.Body)

	canonical := canonicalString(opts.Method, opts.Path, opts.Query, headers, timestamp, nonce, opts.Body)
	signature := s.computeSignature(secret, canonical)

	out := http.Header{}
	out.Set(s.headers.Signature, signature)
	out.Set(s.headers.Timestamp, strconv.FormatInt(timestamp, 10))
	out.Set(s.headers.Nonce, nonce)
	if opts.KeyID != "" {
		out.Set(s.headers.KeyID, opts.KeyID)
	}
	return out, nil
}

// Verify checks the signature headers of r against body. checkReplay guards
// the nonce set; it is on for live traffic and off only in offline tooling.
// The returned error is one of the typed auth errors, or an infrastructure
// error when the replay store cannot be reached (never treated as success).
func (s *Signer) Verify(ctx context.Context, r *http.Request, body []byte, checkReplay bool) error {
	signature := r.Header.Get(s.headers.Signature)
	timestampRaw := r.Header.Get(s.headers.Timestamp)
	nonce := r.Header.Get(s.headers.Nonce)
	if signature == "" || timestampRaw == "" || nonce == "" {
		return ErrSignatureMissing
	}

	version, _, found := strings.Cut(signature, ":")
	if !found || version != signatureVersion {
		return fmt.Errorf("%w: %q", ErrVersionUnsupported, version)
	}

	timestamp, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrTimestampMalformed, timestampRaw)
	}

	now := s.now().Unix()
	skew := now - timestamp
	if skew < 0 {
		skew = -skew
	}
	// The boundary is inclusive: |now - ts| == window is still accepted.
	if time.Duration(skew)*time.Second > s.window {
		return ErrTimestampOutOfWindow
	}

	keyID := r.Header.Get(s.headers.KeyID)
	secret, ok := s.keys(keyID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKeyID, keyID)
	}

	headers := r.Header.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("host") == "" && r.Host != "" {
		// net/http moves the Host header onto the request struct.
		headers.Set("host", r.Host)
	}
	normalizeContentLength(headers, body)

	canonical := canonicalString(r.Method, r.URL.Path, r.URL.Query(), headers, timestamp, nonce, body)
	expected := s.computeSignature(secret, canonical)

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}

	if checkReplay {
		// Claim only after the signature checks out, so garbage requests
		// cannot burn someone else's nonce.
		fresh, err := s.nonces.Claim(ctx, nonce, s.window)
		if err != nil {
			return fmt.Errorf("replay check: %w", err)
		}
		if !fresh {
			return ErrNonceReplay
		}
	}
	return nil
}

func (s *Signer) computeSignature(secret, canonical string) string {
	mac := hmac.New(s.hashFn, []byte(secret))
	mac.Write([]byte(canonical))
	return signatureVersion + ":" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// normalizeContentLength pins the content-length line to the signed body so
// the canonical string does not depend on how the transport frames the
// request. Signer and verifier apply it to their own header copies.
func normalizeContentLength(headers http.Header, body []byte) {
	if len(body) == 0 {
		headers.Del("Content-Length")
		return
	}
	headers.Set("Content-Length", strconv.Itoa(len(body)))
}
