package request

import (
	"sync"

	"github.com/gatehouse-security/gatehouse-go/internal/identity"
	"github.com/gatehouse-security/gatehouse-go/internal/tenant"
)

// Context carries per-request state between the public API and the
// middleware: the caller's identity, the resolved tenant, and whether the
// middleware pipeline already ran.
type Context struct {
	URL           string
	Method        string
	Route         string
	Query         map[string][]string
	Headers       map[string][]string
	RemoteAddress string
	Source        string

	mu                 sync.RWMutex
	user               *identity.Identity
	tenant             *tenant.Context
	executedMiddleware bool
}

func (ctx *Context) GetUserAgent() string {
	if ctx.Headers != nil && len(ctx.Headers["user-agent"]) > 0 {
		return ctx.Headers["user-agent"][0]
	}
	return ""
}

func (ctx *Context) SetUser(user *identity.Identity) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.user = user
}

func (ctx *Context) GetUser() *identity.Identity {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.user
}

func (ctx *Context) GetUserID() string {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	if ctx.user == nil {
		return ""
	}
	return ctx.user.UserID
}

func (ctx *Context) SetTenant(tc *tenant.Context) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.tenant = tc
}

func (ctx *Context) GetTenant() *tenant.Context {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.tenant
}

// MarkMiddlewareExecuted marks the middleware as executed.
// Returns true if the middleware was not already executed, false otherwise.
func (ctx *Context) MarkMiddlewareExecuted() bool {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.executedMiddleware {
		return false
	}

	ctx.executedMiddleware = true
	return true
}

func (ctx *Context) HasMiddlewareExecuted() bool {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	return ctx.executedMiddleware
}

func (ctx *Context) GetIP() string {
	return ctx.RemoteAddress
}
