package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/midirtc/internal/frame"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/transport/transporttest"
	"github.com/1ureka/midirtc/internal/util"
)

func newTestSender(t *testing.T, opts Options) (*Sender, *transporttest.Channel) {
	t.Helper()
	ch := transporttest.NewChannel("DC-test")
	s := NewSender(ch, opts)
	ch.OnOpen(s.Pump)
	ch.OnClose(s.Stop)
	return s, ch
}

func sentFrames(t *testing.T, ch *transporttest.Channel) []frame.Event {
	t.Helper()
	var out []frame.Event
	for _, b := range ch.Sent() {
		ev, err := frame.Decode(b)
		if err != nil {
			t.Fatalf("sender produced an undecodable frame %v: %v", b, err)
		}
		out = append(out, ev)
	}
	return out
}

func note(vel uint8) notes.Event { return notes.Event{Note: 60, Velocity: vel} }

func TestNewSenderSetsThreshold(t *testing.T) {
	_, ch := newTestSender(t, Options{})
	if got := ch.Threshold(); got != DefaultWatermark {
		t.Fatalf("threshold = %d, want %d", got, DefaultWatermark)
	}

	_, ch = newTestSender(t, Options{Watermark: 1024})
	if got := ch.Threshold(); got != 1024 {
		t.Fatalf("threshold = %d, want 1024", got)
	}
}

// TestSenderHoldsUntilOpen verifies an event offered before the channel
// opens is sent, twice, once it does.
func TestSenderHoldsUntilOpen(t *testing.T) {
	stats := &util.Stats{}
	s, ch := newTestSender(t, Options{Stats: stats})

	s.Offer(note(100))
	if n := len(ch.Sent()); n != 0 {
		t.Fatalf("sent %d messages on a closed channel", n)
	}

	ch.Open()

	want := []frame.Event{{Sequence: 0, Note: 60, Velocity: 100}, {Sequence: 0, Note: 60, Velocity: 100}}
	if got := sentFrames(t, ch); !equalEvents(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	if got := stats.FramesSent.Load(); got != Redundancy {
		t.Fatalf("FramesSent = %d, want %d", got, Redundancy)
	}

	// Nothing pending: another pump must not resend.
	s.Pump()
	if n := len(ch.Sent()); n != Redundancy {
		t.Fatalf("sent %d messages after idle pump, want %d", n, Redundancy)
	}
}

func TestSenderNumbersEachEvent(t *testing.T) {
	s, ch := newTestSender(t, Options{})
	ch.Open()

	for i := 0; i < 5; i++ {
		s.Offer(note(uint8(i + 1)))
	}

	got := sentFrames(t, ch)
	if len(got) != 5*Redundancy {
		t.Fatalf("sent %d messages, want %d", len(got), 5*Redundancy)
	}
	for i, ev := range got {
		if ev.Sequence != uint8(i/Redundancy) || ev.Velocity != uint8(i/Redundancy+1) {
			t.Fatalf("message %d = %+v", i, ev)
		}
	}
}

// TestSenderWatermark verifies nothing is sent while the buffered amount
// exceeds the watermark, that a burst collapses to its last event without
// consuming sequence numbers, and that the drain callback releases it.
func TestSenderWatermark(t *testing.T) {
	s, ch := newTestSender(t, Options{Watermark: 100})
	ch.Open()
	ch.SetBuffered(101)

	for i := 1; i <= 3; i++ {
		s.Offer(note(uint8(i)))
	}
	if n := len(ch.Sent()); n != 0 {
		t.Fatalf("sent %d messages above the watermark", n)
	}

	ch.Drain(100)

	want := []frame.Event{{Sequence: 0, Note: 60, Velocity: 3}, {Sequence: 0, Note: 60, Velocity: 3}}
	if got := sentFrames(t, ch); !equalEvents(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
}

// TestSenderStopsAtWatermarkMidStream verifies the watermark is
// re-checked between events.
func TestSenderStopsAtWatermarkMidStream(t *testing.T) {
	s, ch := newTestSender(t, Options{Watermark: 10})
	ch.Open()
	ch.GrowOnSend(6)

	s.Offer(note(1)) // buffered 0 -> 12
	s.Offer(note(2)) // held

	if got := sentFrames(t, ch); len(got) != 2 || got[0].Velocity != 1 {
		t.Fatalf("sent %v, want two copies of velocity 1", got)
	}

	ch.GrowOnSend(0)
	ch.Drain(0)

	got := sentFrames(t, ch)
	if len(got) != 4 || got[2].Velocity != 2 || got[2].Sequence != 1 {
		t.Fatalf("sent %v, want velocity 2 as sequence 1 after drain", got)
	}
}

// TestSenderSendFailureKeepsFrame verifies a failed send leaves the event
// pending and that the retry reuses its sequence number.
func TestSenderSendFailureKeepsFrame(t *testing.T) {
	stats := &util.Stats{}
	s, ch := newTestSender(t, Options{Stats: stats})
	ch.Open()
	ch.FailSends(errors.New("boom"))

	s.Offer(note(3))

	if got := stats.SendFailures.Load(); got != 1 {
		t.Fatalf("SendFailures = %d, want 1", got)
	}
	if _, _, ok := s.slot.Peek(); !ok {
		t.Fatal("event dropped after send failure")
	}

	ch.FailSends(nil)
	s.Pump()

	want := []frame.Event{{Sequence: 0, Note: 60, Velocity: 3}, {Sequence: 0, Note: 60, Velocity: 3}}
	if got := sentFrames(t, ch); !equalEvents(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
}

func TestSenderSharedSequence(t *testing.T) {
	var counter frame.Counter
	counter.Next()
	counter.Next()

	s, ch := newTestSender(t, Options{Sequence: counter.Next})
	ch.Open()
	s.Offer(note(1))

	if got := sentFrames(t, ch); got[0].Sequence != 2 {
		t.Fatalf("sequence = %d, want 2 from the shared counter", got[0].Sequence)
	}
}

func TestSenderStop(t *testing.T) {
	s, ch := newTestSender(t, Options{})
	ch.Open()

	ch.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("channel close did not stop the sender")
	}

	s.Offer(note(1))
	if n := len(ch.Sent()); n != 0 {
		t.Fatalf("stopped sender sent %d messages", n)
	}

	s.Stop() // idempotent
}

func TestSenderRunNoopWithoutRate(t *testing.T) {
	s, _ := newTestSender(t, Options{})
	if s.FixedRate() {
		t.Fatal("sender without a rate reported fixed-rate mode")
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return in default mode")
	}
}

// TestSenderFixedRateResends verifies the fixed-rate loop keeps sending the
// latest event under one sequence number and that Pump leaves the channel
// alone in that mode.
func TestSenderFixedRateResends(t *testing.T) {
	s, ch := newTestSender(t, Options{BytesPerSecond: 16 * 1000})
	if !s.FixedRate() {
		t.Fatal("expected fixed-rate mode")
	}
	ch.Open()

	s.Offer(note(9))
	if n := len(ch.Sent()); n != 0 {
		t.Fatalf("Offer sent %d messages in fixed-rate mode", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(ch.Sent()) < 4*Redundancy && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	got := sentFrames(t, ch)
	if len(got) < 4*Redundancy {
		t.Fatalf("fixed-rate loop sent %d messages, want at least %d", len(got), 4*Redundancy)
	}
	for _, ev := range got {
		if ev.Sequence != 0 || ev.Velocity != 9 {
			t.Fatalf("fixed-rate loop sent %+v, want seq 0 velocity 9", ev)
		}
	}
}

// TestSenderFixedRateStaleDrainSignal verifies a leftover low-buffer signal
// does not let the fixed-rate loop send while still above the watermark.
func TestSenderFixedRateStaleDrainSignal(t *testing.T) {
	s, ch := newTestSender(t, Options{Watermark: 100, BytesPerSecond: 16 * 1000})
	ch.Open()
	ch.SetBuffered(1000)
	s.Offer(note(7))
	s.drainSignal <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if n := len(ch.Sent()); n != 0 {
		t.Fatalf("sent %d messages above the watermark, want 0", n)
	}

	ch.Drain(0)

	deadline := time.Now().Add(5 * time.Second)
	for len(ch.Sent()) < Redundancy && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(ch.Sent()); n < Redundancy {
		t.Fatalf("sent %d messages after draining, want at least %d", n, Redundancy)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSenderFixedRateExits(t *testing.T) {
	testCases := []struct {
		name string
		stop func(s *Sender, ch *transporttest.Channel)
	}{
		{"channel closed", func(_ *Sender, ch *transporttest.Channel) { ch.Close() }},
		{"stopped", func(s *Sender, _ *transporttest.Channel) { s.Stop() }},
		{"stopped while above watermark", func(s *Sender, ch *transporttest.Channel) {
			ch.SetBuffered(1 << 20)
			time.Sleep(20 * time.Millisecond)
			s.Stop()
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, ch := newTestSender(t, Options{BytesPerSecond: 8000})
			ch.Open()
			s.Offer(note(1))

			done := make(chan struct{})
			go func() {
				s.Run(context.Background())
				close(done)
			}()

			tc.stop(s, ch)

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	}
}

func equalEvents(a, b []frame.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
