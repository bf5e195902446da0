package session

import (
	"errors"
	"sync"

	"github.com/1ureka/midirtc/internal/transport"
)

// Registry maps peer identities to Sessions and channel labels to Channels.
// It is the single source of truth for "do we already have a connection to
// this peer". One Registry is created per node and torn down with Close.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[string]transport.Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		channels: make(map[string]transport.Channel),
	}
}

// RegisterConnection stores s under peer. An existing entry is replaced;
// callers check LookupConnection first.
func (r *Registry) RegisterConnection(peer string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[peer] = s
}

// LookupConnection returns the Session for peer, if any.
func (r *Registry) LookupConnection(peer string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[peer]
	return s, ok
}

// RegisterChannel stores ch under label, replacing any existing entry.
func (r *Registry) RegisterChannel(label string, ch transport.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[label] = ch
}

// LookupChannel returns the Channel registered under label, if any.
func (r *Registry) LookupChannel(label string) (transport.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[label]
	return ch, ok
}

// Remove drops the Session for peer and the labels of its channels, but
// only if the registered Session is s. It does not close s.
func (r *Registry) Remove(peer string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[peer]; !ok || cur != s {
		return false
	}
	delete(r.sessions, peer)
	for _, ch := range s.Channels() {
		if r.channels[ch.Label()] == ch {
			delete(r.channels, ch.Label())
		}
	}
	return true
}

// Len returns the number of registered Sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of all registered Sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close empties the registry and closes every Session it held. Sessions
// are closed outside the lock.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.channels = make(map[string]transport.Channel)
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
