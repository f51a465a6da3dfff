// Package tenant resolves the tenant owning a request. A chain of resolver
// strategies is tried in order; the first match wins. Which strategies run,
// and in what order, is a deployment decision, not code.
package tenant

import (
	"context"
	"errors"
)

// Context identifies the tenant a request belongs to. Resolved once per
// request and read-only downstream.
type Context struct {
	ID         string
	Code       string
	Name       string
	Subdomain  string
	TemplateID string
	StoreID    string
	Settings   map[string]string
}

// ErrNotFound is returned by registries when no tenant matches.
var ErrNotFound = errors.New("tenant not found")

// Registry looks tenants up by identifier (id, code or subdomain). Supplied
// by the host application; implementations are typically database-backed.
type Registry interface {
	Lookup(ctx context.Context, identifier string) (*Context, error)
}
