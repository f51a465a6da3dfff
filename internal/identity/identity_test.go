package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AuthenticatedUser(t *testing.T) {
	a := New("user-42", "10.0.0.1", "curl/8.0")
	b := New("user-42", "192.168.1.5", "Mozilla/5.0")

	assert.True(t, strings.HasPrefix(a.Key, "user:"))
	assert.Equal(t, a.Key, b.Key, "same user on different connections keeps one key")
	assert.NotContains(t, a.Key, "user-42", "raw user id must not leak into the key")
}

func TestNew_Anonymous(t *testing.T) {
	a := New("", "10.0.0.1", "curl/8.0")
	b := New("", "10.0.0.1", "curl/8.0")
	c := New("", "10.0.0.2", "curl/8.0")
	d := New("", "10.0.0.1", "Mozilla/5.0")

	assert.True(t, strings.HasPrefix(a.Key, "anon:"))
	assert.Equal(t, a.Key, b.Key)
	assert.NotEqual(t, a.Key, c.Key, "different IP, different key")
	assert.NotEqual(t, a.Key, d.Key, "different user agent, different key")
}

func TestCanonicalIP(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"ipv4-mapped ipv6 equals ipv4", "::ffff:203.0.113.7", "203.0.113.7"},
		{"ipv6 leading zeros collapse", "2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, New("", tt.a, "ua").Key, New("", tt.b, "ua").Key)
		})
	}

	t.Run("unparseable input falls back to raw string", func(t *testing.T) {
		id := New("", "not-an-ip", "ua")
		assert.Equal(t, "not-an-ip", id.IP)
	})
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/api", nil)
	r.RemoteAddr = "203.0.113.7:54912"
	r.Header.Set("User-Agent", "curl/8.0")

	id := FromRequest(r, "")
	require.Equal(t, "203.0.113.7", id.IP, "port is stripped from RemoteAddr")
	assert.Equal(t, New("", "203.0.113.7", "curl/8.0").Key, id.Key)
}
