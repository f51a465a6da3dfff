package request

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type contextKey struct{}

var reqCtxKey contextKey

// SetContext builds a request Context from an incoming HTTP request and
// attaches it to the Go context so later calls (SetUser, middleware) can
// reach it.
func SetContext(ctx context.Context, r *http.Request, source string) context.Context {
	c := &Context{
		URL:           fullURL(r),
		Method:        r.Method,
		Route:         r.URL.Path,
		Query:         r.URL.Query(),
		Headers:       headersToMap(r.Header),
		RemoteAddress: remoteIP(r),
		Source:        source,
	}
	return context.WithValue(ctx, reqCtxKey, c)
}

func GetContext(ctx context.Context) *Context {
	c := ctx.Value(reqCtxKey)
	if c == nil {
		return nil
	}

	return c.(*Context)
}

func headersToMap(headers http.Header) map[string][]string {
	headerInfo := make(map[string][]string)
	for key, values := range headers {
		headerInfo[strings.ToLower(key)] = values
	}
	return headerInfo
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}
