// Package flow keeps a data channel fed with note frames without unbounded
// queuing: a single pending slot, a buffered-amount watermark, and
// redundant transmission.
package flow

import (
	"sync"

	"github.com/1ureka/midirtc/internal/notes"
)

// Slot holds at most one pending event. It is level-triggered: Put
// overwrites whatever is pending, so a burst of note events between two
// drains delivers only the most recent one.
type Slot struct {
	mu      sync.Mutex
	ev      notes.Event
	gen     uint64 // bumped on every Put
	pending bool
	filled  bool // an event has ever been Put
}

// Put makes ev the pending event, replacing any event not yet sent.
func (s *Slot) Put(ev notes.Event) {
	s.mu.Lock()
	s.ev = ev
	s.gen++
	s.pending = true
	s.filled = true
	s.mu.Unlock()
}

// Peek returns the pending event and its generation without clearing it.
func (s *Slot) Peek() (notes.Event, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ev, s.gen, s.pending
}

// Clear drops the pending flag if no newer event was Put since gen.
func (s *Slot) Clear(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.pending = false
	}
	s.mu.Unlock()
}

// Latest returns the most recently Put event, pending or not, and its
// generation.
func (s *Slot) Latest() (notes.Event, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ev, s.gen, s.filled
}
