package signing

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// signedHeaders is the fixed allow-list of headers included in the canonical
// string. Headers absent from the request are omitted, not zero-filled.
// Changing this list breaks every existing signature, so it is not
// configurable.
var signedHeaders = []string{
	"content-type",
	"content-length",
	"host",
	"x-api-version",
	"x-client-id",
}

// canonicalString serializes the signable fields of a request so signer and
// verifier compute byte-identical HMAC input regardless of transport:
//
//	METHOD \n path \n sorted-query \n sorted-headers \n timestamp \n nonce \n body-digest
//
// The header part is itself newline-joined "name:value" lines; query is
// "k=v&k=v" sorted; the body digest is base64(SHA-256(body)) or empty.
func canonicalString(method, path string, query url.Values, headers http.Header, timestamp int64, nonce string, body []byte) string {
	parts := []string{
		strings.ToUpper(method),
		path,
		canonicalQuery(query),
		canonicalHeaders(headers),
		strconv.FormatInt(timestamp, 10),
		nonce,
		bodyDigest(body),
	}
	return strings.Join(parts, "\n")
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(query))
	for key, values := range query {
		for _, value := range values {
			pairs = append(pairs, key+"="+value)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

func canonicalHeaders(headers http.Header) string {
	if len(headers) == 0 {
		return ""
	}

	var lines []string
	for _, name := range signedHeaders {
		value := headers.Get(name)
		if value == "" {
			continue
		}
		lines = append(lines, name+":"+value)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func bodyDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}
