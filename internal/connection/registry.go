package connection

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the set of currently open connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]Conn),
	}
}

// Add registers c. It reports false if c was already registered.
func (r *Registry) Add(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID()]; ok {
		return false
	}
	r.conns[c.ID()] = c
	return true
}

// Remove unregisters c. Removing an absent connection is a no-op that
// reports false.
func (r *Registry) Remove(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID()]; !ok {
		return false
	}
	delete(r.conns, c.ID())
	return true
}

// All returns the connections open at call time. The slice is a copy;
// connections closing while the caller iterates it do not affect it.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
