package manager

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Registry owns the mapping from session id to live session.
// All operations are synchronous map operations.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	generation uint64
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session for id with a fresh generation. A session
// already registered for id is cancelled and returned as prev, so two
// concurrent creates never leave an unreachable loop running. The new
// session's context derives from parent.
func (r *Registry) Create(parent context.Context, id string) (sess, prev *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev = r.sessions[id]
	if prev != nil {
		prev.Cancel()
	}
	r.generation++
	sess = newSession(parent, id, r.generation, r.now())
	r.sessions[id] = sess
	return sess, prev
}

// Get returns the session registered for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove unregisters id and returns the removed session, if any.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return sess, ok
}

// RemoveIf unregisters sess only if it is still the registered generation
// for its id. A superseded session never removes its replacement.
func (r *Registry) RemoveIf(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.ID] != sess {
		return false
	}
	delete(r.sessions, sess.ID)
	return true
}

// IsCurrent reports whether owner is the registered generation of its session.
func (r *Registry) IsCurrent(owner Owner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[owner.SessionID]
	return ok && sess.Generation == owner.Generation
}

// ListActive returns the registered session ids, sorted.
func (r *Registry) ListActive() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
