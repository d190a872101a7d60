package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
)

// Connection describes one remote a browser can open: an id and the backend
// serving it.
type Connection struct {
	ID          string          `json:"id"`
	BackendType string          `json:"backend_type"`
	Config      json.RawMessage `json:"config"`
}

type registered struct {
	Connection
	service Service
}

// Registry resolves which listing service serves a given connection.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*registered)}
}

// Register binds a service to a connection id, closing any service it
// replaces.
func (r *Registry) Register(id string, svc Service) {
	r.mu.Lock()
	old := r.connections[id]
	r.connections[id] = &registered{
		Connection: Connection{ID: id, BackendType: svc.Type()},
		service:    svc,
	}
	r.mu.Unlock()

	if old != nil && old.service != svc {
		old.service.Close()
	}
}

// Load replaces the registered connections with conns. Backends whose
// config did not change are reused; the others are created with f. A
// connection that fails to initialize is logged and skipped.
func (r *Registry) Load(ctx context.Context, f Factory, conns []Connection) error {
	next := make(map[string]*registered, len(conns))

	for _, c := range conns {
		r.mu.RLock()
		existing := r.connections[c.ID]
		r.mu.RUnlock()

		var svc Service
		if existing != nil && existing.BackendType == c.BackendType && string(existing.Config) == string(c.Config) {
			svc = existing.service
		} else {
			var err error
			svc, err = f.New(ctx, c.BackendType, c.Config)
			if err != nil {
				logging.Error("failed to initialize listing backend",
					zap.String("connection", c.ID),
					zap.String("backend", c.BackendType),
					zap.Error(err))
				continue
			}
		}
		next[c.ID] = &registered{Connection: c, service: svc}
	}

	r.mu.Lock()
	old := r.connections
	r.connections = next
	r.mu.Unlock()

	for id, reg := range old {
		if n, ok := next[id]; !ok || n.service != reg.service {
			reg.service.Close()
		}
	}

	logging.Info("listing registry loaded",
		zap.Int("connections", len(next)),
		zap.Int("configured", len(conns)))

	if len(next) == 0 && len(conns) > 0 {
		return fmt.Errorf("no listing backend could be initialized")
	}
	return nil
}

// Resolve returns the service for a connection.
func (r *Registry) Resolve(id string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.connections[id]; ok {
		return reg.service, nil
	}
	return nil, fmt.Errorf("no listing service for connection %q", id)
}

// Connections returns the registered connection ids, sorted.
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes all backend connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.connections {
		reg.service.Close()
	}
	r.connections = make(map[string]*registered)
	return nil
}
