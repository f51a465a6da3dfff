package tenant

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatehouse-security/gatehouse-go/internal/log"
)

// Request header and query parameter names accepted for tenant hints.
const (
	HeaderTenantID   = "X-Tenant-Id"
	HeaderTenantCode = "X-Tenant-Code"
	QueryParam       = "tenant"
)

// Resolver is one strategy for extracting a tenant from a request. A nil
// context with a nil error means "no opinion"; the chain moves on.
type Resolver interface {
	Name() string
	Resolve(r *http.Request) (*Context, error)
}

// Chain tries its resolvers in order and returns the first match. A resolver
// error (e.g. registry unavailable) is logged and treated as no-match so the
// remaining strategies still get a chance.
type Chain struct {
	resolvers []Resolver
}

func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

func (c *Chain) Resolve(r *http.Request) *Context {
	for _, resolver := range c.resolvers {
		tc, err := resolver.Resolve(r)
		if err != nil {
			log.Warn("tenant resolver failed",
				slog.String("resolver", resolver.Name()),
				slog.String("error", err.Error()))
			continue
		}
		if tc != nil {
			return tc
		}
	}
	return nil
}

// SubdomainResolver strips a configured base domain suffix from the Host
// header and looks the remaining label up in the registry.
type SubdomainResolver struct {
	BaseDomain string
	Registry   Registry
}

func (SubdomainResolver) Name() string { return "subdomain" }

func (s SubdomainResolver) Resolve(r *http.Request) (*Context, error) {
	if s.BaseDomain == "" || s.Registry == nil {
		return nil, nil
	}

	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	suffix := "." + s.BaseDomain
	if !strings.HasSuffix(host, suffix) {
		return nil, nil
	}

	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") {
		return nil, nil
	}

	return lookup(r, s.Registry, label)
}

// HeaderResolver reads an explicit tenant id or code header.
type HeaderResolver struct {
	Registry Registry
}

func (HeaderResolver) Name() string { return "header" }

func (h HeaderResolver) Resolve(r *http.Request) (*Context, error) {
	if h.Registry == nil {
		return nil, nil
	}

	identifier := r.Header.Get(HeaderTenantID)
	if identifier == "" {
		identifier = r.Header.Get(HeaderTenantCode)
	}
	if identifier == "" {
		return nil, nil
	}
	return lookup(r, h.Registry, identifier)
}

// PortResolver maps the connection's local port to a tenant code. A
// development convenience: each tenant gets its own local port, no DNS setup
// required.
type PortResolver struct {
	Ports    map[int]string // local port -> tenant code
	Registry Registry
}

func (PortResolver) Name() string { return "port" }

func (p PortResolver) Resolve(r *http.Request) (*Context, error) {
	if len(p.Ports) == 0 || p.Registry == nil {
		return nil, nil
	}

	port := localPort(r)
	if port == 0 {
		return nil, nil
	}

	code, ok := p.Ports[port]
	if !ok {
		return nil, nil
	}
	return lookup(r, p.Registry, code)
}

func localPort(r *http.Request) int {
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if _, portStr, err := net.SplitHostPort(addr.String()); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				return port
			}
		}
	}
	// Fall back to the Host header's port (e.g. behind httptest).
	if _, portStr, err := net.SplitHostPort(r.Host); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil {
			return port
		}
	}
	return 0
}

// QueryResolver reads the "tenant" query parameter, accepting id or code.
type QueryResolver struct {
	Registry Registry
}

func (QueryResolver) Name() string { return "query" }

func (q QueryResolver) Resolve(r *http.Request) (*Context, error) {
	if q.Registry == nil {
		return nil, nil
	}

	identifier := r.URL.Query().Get(QueryParam)
	if identifier == "" {
		return nil, nil
	}
	return lookup(r, q.Registry, identifier)
}

func lookup(r *http.Request, registry Registry, identifier string) (*Context, error) {
	tc, err := registry.Lookup(r.Context(), identifier)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tc, nil
}
