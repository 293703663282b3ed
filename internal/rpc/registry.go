package rpc

import (
	"context"
	"sync"
)

// Handler processes one decoded request payload for a named service and
// returns the response payload to echo back under the request's message
// id. Implemented by internal/admin's RPC surface and by internal/engine's
// Replication.Ship handler.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps service names to handlers, the RPC-side equivalent of the
// teacher's route table in pkg/server/server.go, but keyed by a service
// name carried in the message envelope rather than an HTTP path.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any existing binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler bound to name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
