package tenant

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry, indexed by id, code and
// subdomain. Useful for tests, development and small static deployments.
type MemoryRegistry struct {
	mu       sync.RWMutex
	tenants  map[string]*Context // by id
	byCode   map[string]string
	bySubdom map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tenants:  make(map[string]*Context),
		byCode:   make(map[string]string),
		bySubdom: make(map[string]string),
	}
}

func (m *MemoryRegistry) Add(tc Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tenants[tc.ID] = &tc
	if tc.Code != "" {
		m.byCode[tc.Code] = tc.ID
	}
	if tc.Subdomain != "" {
		m.bySubdom[tc.Subdomain] = tc.ID
	}
}

// Lookup accepts a tenant id, code or subdomain.
func (m *MemoryRegistry) Lookup(_ context.Context, identifier string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := identifier
	if mapped, ok := m.byCode[identifier]; ok {
		id = mapped
	} else if mapped, ok := m.bySubdom[identifier]; ok {
		id = mapped
	}

	tc, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}

	copied := *tc
	return &copied, nil
}
