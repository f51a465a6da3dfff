// Package webhook implements flat HMAC-SHA256 signing for outbound webhook
// delivery and inbound webhook acceptance. The signed material is a canonical
// JSON document, so any consumer that can sort JSON keys can verify.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header names for webhook signatures.
const (
	SignatureHeader = "X-Webhook-Signature"
	TimestampHeader = "X-Webhook-Timestamp"
	EventHeader     = "X-Webhook-Event"
)

var (
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrPayloadTooOld  = errors.New("webhook timestamp too old")
	ErrBadTimestamp   = errors.New("malformed webhook timestamp")
	ErrInvalidPayload = errors.New("webhook payload is not valid JSON")
)

// Sign computes the signature header value for a payload. The canonical
// document is {"event_type","payload","timestamp"} with sorted keys and no
// extra whitespace; outbound signing always includes the timestamp.
func Sign(secret string, payload []byte, eventType string, timestamp time.Time) (string, error) {
	canonical, err := canonicalDocument(payload, eventType, timestamp.Unix())
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyOptions control inbound verification. When Timestamp is present it is
// checked against MaxAge. An empty Timestamp verifies against a canonical
// document with timestamp 0, so it only matches senders that sign a zero
// timestamp; deliveries produced by Sign always stamp, and stripping their
// timestamp header makes verification fail.
type VerifyOptions struct {
	Secret    string
	Payload   []byte
	EventType string
	Signature string // "sha256=<hex>" header value
	Timestamp string // raw header value, may be empty
	MaxAge    time.Duration
	Now       time.Time // zero means time.Now()
}

// Verify recomputes the signature and compares in constant time.
func Verify(opts VerifyOptions) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var ts int64
	if opts.Timestamp != "" {
		parsed, err := strconv.ParseInt(opts.Timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadTimestamp, opts.Timestamp)
		}
		ts = parsed

		if opts.MaxAge > 0 && now.Unix()-ts > int64(opts.MaxAge/time.Second) {
			return ErrPayloadTooOld
		}
	}

	canonical, err := canonicalDocument(opts.Payload, opts.EventType, ts)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(opts.Secret))
	mac.Write(canonical)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(opts.Signature)) {
		return ErrBadSignature
	}
	return nil
}

// canonicalDocument renders the signed JSON. Field order in the struct gives
// the sorted key order; the payload is compacted so caller formatting cannot
// change the signature.
func canonicalDocument(payload []byte, eventType string, timestamp int64) ([]byte, error) {
	compact := &bytes.Buffer{}
	if len(payload) == 0 {
		compact.WriteString("null")
	} else if err := json.Compact(compact, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	doc := struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp int64           `json:"timestamp"`
	}{
		EventType: eventType,
		Payload:   json.RawMessage(compact.Bytes()),
		Timestamp: timestamp,
	}
	return json.Marshal(doc)
}
