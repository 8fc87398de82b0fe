package broadcast

import (
	"sync"

	"github.com/pscheid92/aisrelay/internal/adapter/metrics"
)

// Registry is the set of currently connected subscriber sessions.
// Mutations are exclusive with ForEach traversal.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	metrics  *metrics.WebSocketMetrics
}

func NewRegistry(wsMetrics *metrics.WebSocketMetrics) *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		metrics:  wsMetrics,
	}
}

// Add inserts s and returns the registry size afterwards.
func (r *Registry) Add(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s] = struct{}{}
	r.metrics.ActiveConnections.Set(float64(len(r.sessions)))
	return len(r.sessions)
}

// Remove deletes s. Removing an absent session is a no-op that reports
// removed=false, so racing close and error paths decrement exactly once.
func (r *Registry) Remove(s *Session) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s]; !ok {
		return len(r.sessions), false
	}
	delete(r.sessions, s)
	r.metrics.ActiveConnections.Set(float64(len(r.sessions)))
	return len(r.sessions), true
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls visit for every session while holding the read lock.
// visit must not call Add or Remove.
func (r *Registry) ForEach(visit func(*Session)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for s := range r.sessions {
		visit(s)
	}
}

// Snapshot returns a copy of the current membership.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}
