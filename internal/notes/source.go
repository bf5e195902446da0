package notes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
)

// ErrBadLine is returned by ParseLine for input it cannot read as a note.
var ErrBadLine = errors.New("bad note line")

// ChanSource is a Source fed by Push. Push never blocks: when the buffer
// is full the event is dropped, matching the lossy-latest delivery of the
// sender behind it.
type ChanSource struct {
	ch        chan Event
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ Source = (*ChanSource)(nil)

// NewChanSource creates a source with room for size pending events.
func NewChanSource(size int) *ChanSource {
	if size < 1 {
		size = 1
	}
	return &ChanSource{ch: make(chan Event, size)}
}

func (s *ChanSource) Events() <-chan Event { return s.ch }

// Push queues e and reports whether it was accepted.
func (s *ChanSource) Push(e Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// Close ends the event stream. Safe to call more than once.
func (s *ChanSource) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// ParseLine reads a MIDI message on channel 0 from "<note> [velocity]",
// both 0-127. A missing velocity defaults to 100; "off <note>" is a
// note-off.
func ParseLine(line string) (midi.Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadLine)
	}

	off := false
	if strings.EqualFold(fields[0], "off") {
		off = true
		fields = fields[1:]
	}
	if len(fields) == 0 || len(fields) > 2 || (off && len(fields) != 1) {
		return nil, fmt.Errorf("%w: %q", ErrBadLine, line)
	}

	note, err := parseData(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: note: %v", ErrBadLine, err)
	}
	if off {
		return midi.NoteOff(0, note), nil
	}

	vel := uint8(100)
	if len(fields) == 2 {
		vel, err = parseData(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: velocity: %v", ErrBadLine, err)
		}
	}

	return midi.NoteOn(0, note, vel), nil
}

// parseData reads a 7-bit MIDI data byte.
func parseData(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 7)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}
