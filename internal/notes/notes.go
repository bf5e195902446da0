// Package notes is the boundary between the session core and whatever
// produces or plays MIDI notes. Only note-on events travel between peers;
// a velocity of zero means note-off and is never sent.
package notes

import (
	"gitlab.com/gomidi/midi/v2"
)

// Event is one note event carried by a frame.
type Event struct {
	Note     uint8
	Velocity uint8
}

// On reports whether the event starts a note.
func (e Event) On() bool { return e.Velocity > 0 }

// Message renders the event as a MIDI channel message on channel ch.
// Values outside the 7-bit MIDI range are masked.
func (e Event) Message(ch uint8) midi.Message {
	if !e.On() {
		return midi.NoteOff(ch&0x0f, e.Note&0x7f)
	}
	return midi.NoteOn(ch&0x0f, e.Note&0x7f, e.Velocity&0x7f)
}

// FromMessage extracts a note-on event from a MIDI message. Note-off
// (including note-on with velocity 0) and every other message are
// reported as not a note.
func FromMessage(msg midi.Message) (Event, bool) {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return Event{}, false
	}
	return Event{Note: key, Velocity: vel}, true
}

// Sink receives accepted inbound events. It is called from transport
// goroutines and must not block for long.
type Sink interface {
	HandleNote(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) HandleNote(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Source produces outbound events until its channel is closed.
type Source interface {
	Events() <-chan Event
}
