package notes

import (
	"bytes"
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func TestMessageRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		ev   Event
	}{
		{"middle C", Event{Note: 60, Velocity: 100}},
		{"lowest", Event{Note: 0, Velocity: 1}},
		{"highest", Event{Note: 127, Velocity: 127}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FromMessage(tc.ev.Message(3))
			if !ok {
				t.Fatal("FromMessage did not recognise the note")
			}
			if got != tc.ev {
				t.Fatalf("got %+v, want %+v", got, tc.ev)
			}
		})
	}
}

func TestFromMessageIgnoresOtherMessages(t *testing.T) {
	msgs := []midi.Message{
		midi.NoteOff(0, 64),
		midi.NoteOn(0, 64, 0),
		Event{Note: 64}.Message(0),
		midi.ControlChange(0, 7, 100),
		midi.ProgramChange(0, 5),
		midi.Pitchbend(0, 100),
	}

	for _, m := range msgs {
		if ev, ok := FromMessage(m); ok {
			t.Fatalf("FromMessage(%v) = %+v, want not a note", m, ev)
		}
	}
}

func TestMessageMasksOutOfRange(t *testing.T) {
	ev := Event{Note: 200, Velocity: 255}
	got, ok := FromMessage(ev.Message(0))
	if !ok {
		t.Fatal("masked message not recognised")
	}
	if got.Note != 200&0x7f || got.Velocity != 255&0x7f {
		t.Fatalf("got %+v, want masked values", got)
	}
}

func TestParseLine(t *testing.T) {
	testCases := []struct {
		line string
		want midi.Message
		ok   bool
	}{
		{"60 100", midi.NoteOn(0, 60, 100), true},
		{"  61\t90 ", midi.NoteOn(0, 61, 90), true},
		{"62", midi.NoteOn(0, 62, 100), true},
		{"127 127", midi.NoteOn(0, 127, 127), true},
		{"60 0", midi.NoteOn(0, 60, 0), true},
		{"off 63", midi.NoteOff(0, 63), true},
		{"OFF 63", midi.NoteOff(0, 63), true},
		{"", nil, false},
		{"off", nil, false},
		{"off 60 10", nil, false},
		{"128", nil, false},
		{"60 128", nil, false},
		{"60 -1", nil, false},
		{"a b", nil, false},
		{"1 2 3", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			got, err := ParseLine(tc.line)
			if !tc.ok {
				if !errors.Is(err, ErrBadLine) {
					t.Fatalf("expected ErrBadLine, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

// TestParsedLineNoteOnOnly checks that only note-on lines yield an event.
func TestParsedLineNoteOnOnly(t *testing.T) {
	testCases := []struct {
		line string
		want Event
		ok   bool
	}{
		{"60 90", Event{60, 90}, true},
		{"61", Event{61, 100}, true},
		{"off 60", Event{}, false},
		{"60 0", Event{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			msg, err := ParseLine(tc.line)
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			got, ok := FromMessage(msg)
			if ok != tc.ok {
				t.Fatalf("FromMessage ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestChanSource(t *testing.T) {
	s := NewChanSource(2)

	if !s.Push(Event{1, 1}) || !s.Push(Event{2, 2}) {
		t.Fatal("Push rejected an event with room in the buffer")
	}
	if s.Push(Event{3, 3}) {
		t.Fatal("Push accepted an event into a full buffer")
	}

	s.Close()
	s.Close()

	if s.Push(Event{4, 4}) {
		t.Fatal("Push accepted an event after Close")
	}

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 || got[0] != (Event{1, 1}) || got[1] != (Event{2, 2}) {
		t.Fatalf("drained %+v, want [{1 1} {2 2}]", got)
	}
}

func TestSinkFunc(t *testing.T) {
	var got Event
	var s Sink = SinkFunc(func(e Event) { got = e })
	s.HandleNote(Event{Note: 9, Velocity: 8})
	if got != (Event{9, 8}) {
		t.Fatalf("got %+v", got)
	}
	Discard.HandleNote(Event{})
}
