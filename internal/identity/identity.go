// Package identity derives a stable per-client fingerprint from connection and
// auth info. The fingerprint is the partition key for all rate-limit and ban
// state, and the only client identifier that ever reaches the logs.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// Identity is recomputed per request and never persisted as an entity.
type Identity struct {
	Key       string // partition key, hashed form
	UserID    string // empty for anonymous clients
	IP        string // canonical form
	UserAgent string
}

// New derives the client key. An authenticated user id wins over the
// connection fingerprint so a user keeps one budget across devices.
func New(userID, ip, userAgent string) Identity {
	id := Identity{
		UserID:    userID,
		IP:        canonicalIP(ip),
		UserAgent: userAgent,
	}

	if userID != "" {
		id.Key = "user:" + fingerprint(userID)
	} else {
		id.Key = "anon:" + fingerprint(id.IP+"\n"+userAgent)
	}
	return id
}

// FromRequest derives the identity from a request. userID may be empty.
func FromRequest(r *http.Request, userID string) Identity {
	return New(userID, remoteIP(r), r.UserAgent())
}

func fingerprint(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalIP normalizes the textual form so equivalent addresses hash to the
// same key. IPv4-mapped IPv6 addresses collapse onto their IPv4 form.
func canonicalIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "unknown"
	}

	addr, err := ipaddr.NewIPAddressString(raw).ToAddress()
	if err != nil {
		return raw
	}

	if addr.IsIPv6() && addr.ToIPv6().IsIPv4Mapped() {
		if v4, convErr := addr.ToIPv6().GetEmbeddedIPv4Address(); convErr == nil {
			return v4.ToNormalizedString()
		}
	}
	return addr.ToNormalizedString()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
