package session

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/lagz0ne/claude-web/internal/model"
)

// Registry holds the sessions that currently own a live agent stream.
// Presence in the registry means the session is active.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s. It fails if a session with the same id is already active.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("%w: %s", model.ErrSessionAlreadyActive, s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns the active session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes and returns the session for id.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	return s, ok
}

// Detach removes s only if it is still the registered session for its id.
func (r *Registry) Detach(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
		return true
	}
	return false
}

// All returns a snapshot of the active sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	return list
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close cancels every active session's stream, then clears the registry.
func (r *Registry) Close() error {
	var result error
	for _, s := range r.All() {
		if err := s.stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", s.ID, err))
		}
		r.Detach(s)
	}
	return result
}
