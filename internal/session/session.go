// Package session holds per-peer state and the registry that maps peer
// identities and channel labels to it.
package session

import (
	"errors"
	"sync"

	"github.com/1ureka/midirtc/internal/frame"
	"github.com/1ureka/midirtc/internal/transport"
)

// Session is the aggregate of one transport Connection and its Channels for
// a single remote peer, together with that peer's sequence state.
type Session struct {
	// Identity
	peer string
	role Role

	// Transport
	conn transport.Connection

	// Per-session sequence state
	counter  frame.Counter
	receiver *frame.Receiver

	mu       sync.Mutex
	state    State
	channels []transport.Channel
	closing  bool
}

// New creates a Session in StateNew. It does not register it.
func New(peer string, role Role, conn transport.Connection) *Session {
	return &Session{
		peer:     peer,
		role:     role,
		conn:     conn,
		receiver: frame.NewReceiver(),
		state:    StateNew,
	}
}

func (s *Session) Peer() string               { return s.peer }
func (s *Session) Role() Role                 { return s.role }
func (s *Session) Conn() transport.Connection { return s.conn }
func (s *Session) Receiver() *frame.Receiver  { return s.receiver }
func (s *Session) NextSequence() uint8        { return s.counter.Next() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the Session has reached StateClosed.
func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

// Transition moves the Session forward to the given state. Backward moves,
// repeats, and any move out of StateClosed are refused. Returns whether the
// state changed.
func (s *Session) Transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || to <= s.state {
		return false
	}
	s.state = to
	return true
}

// AddChannel records a channel as belonging to this Session.
func (s *Session) AddChannel(ch transport.Channel) {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
}

// Channels returns a snapshot of the Session's channels.
func (s *Session) Channels() []transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Channel(nil), s.channels...)
}

// Close marks the Session closed and shuts its channels and connection.
// Idempotent, and re-entrant: a transport callback fired by the shutdown
// may call Close again and returns immediately. No lock is held while
// calling into the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.state = StateClosed
	channels := s.channels
	s.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		errs = append(errs, ch.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
