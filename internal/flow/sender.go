package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/1ureka/midirtc/internal/frame"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/transport"
	"github.com/1ureka/midirtc/internal/util"
)

const (
	// Redundancy is how many times each frame is transmitted.
	Redundancy = 2
	// DefaultWatermark pauses sending while more than this many bytes are
	// buffered in the channel.
	DefaultWatermark = 64 * 1024
	// stepsPerSecond sets the fixed-rate loop's burst to 10 ms worth of bytes.
	stepsPerSecond = 100
)

// ErrSendFailure wraps a transport error raised while transmitting.
var ErrSendFailure = errors.New("channel send failed")

// Options configures a Sender.
type Options struct {
	// Watermark is the buffered-amount ceiling, also used as the
	// low-threshold that re-triggers the sender.
	Watermark uint64
	// BytesPerSecond enables the fixed-rate loop when > 0.
	BytesPerSecond int
	// Sequence numbers frames. Each pending event takes one number the
	// first time it is transmitted, so events overwritten in the slot
	// never leave a gap. Defaults to a private counter.
	Sequence func() uint8
	Stats    *util.Stats
}

// Sender drives one Channel. In the default mode it has no goroutine of its
// own: Pump runs on whichever callback triggered it (channel open,
// buffered-amount-low, or a new frame). In fixed-rate mode Run paces
// transmissions and Pump does nothing.
type Sender struct {
	ch        transport.Channel
	watermark uint64
	stats     *util.Stats
	slot      Slot
	seq       func() uint8

	limiter     *rate.Limiter // nil unless fixed-rate
	drainSignal chan struct{}

	pumpMu sync.Mutex // serialises transmissions so send order is call order
	kick   atomic.Bool

	// The frame last built from the slot; guarded by pumpMu.
	stamped    bool
	stampGen   uint64
	stampFrame frame.Frame

	done     chan struct{}
	doneOnce sync.Once
}

// NewSender creates a Sender for ch and wires the buffered-amount-low
// callback. The caller wires OnOpen to Pump (or Run) and OnClose to Stop.
func NewSender(ch transport.Channel, opts Options) *Sender {
	if opts.Watermark == 0 {
		opts.Watermark = DefaultWatermark
	}
	if opts.Stats == nil {
		opts.Stats = &util.Stats{}
	}
	if opts.Sequence == nil {
		var c frame.Counter
		opts.Sequence = c.Next
	}

	s := &Sender{
		ch:          ch,
		watermark:   opts.Watermark,
		stats:       opts.Stats,
		seq:         opts.Sequence,
		drainSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	if opts.BytesPerSecond > 0 {
		burst := max(frame.Size*Redundancy, opts.BytesPerSecond/stepsPerSecond)
		s.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSecond), burst)
	}

	ch.SetBufferedAmountLowThreshold(s.watermark)
	ch.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
		s.Pump()
	})

	return s
}

// FixedRate reports whether the Sender paces itself with Run.
func (s *Sender) FixedRate() bool { return s.limiter != nil }

// Offer makes ev the pending event and tries to send it right away.
func (s *Sender) Offer(ev notes.Event) {
	s.slot.Put(ev)
	s.Pump()
}

// Pump transmits the pending frame while the channel is open, the buffered
// amount is within the watermark, and a frame is pending. A send failure
// ends this round; the pending frame stays pending and the channel's close
// callback decides whether the Sender lives on.
//
// Pump never waits for a concurrent Pump: if one is already running it is
// told to go round again, so transport callbacks are never blocked.
func (s *Sender) Pump() {
	if s.FixedRate() {
		return
	}

	s.kick.Store(true)
	for s.pumpMu.TryLock() {
		s.kick.Store(false)
		s.drain()
		s.pumpMu.Unlock()

		if !s.kick.Load() {
			return
		}
	}
}

func (s *Sender) drain() {
	for !s.stopped() && s.ch.IsOpen() && s.ch.BufferedAmount() <= s.watermark {
		ev, gen, ok := s.slot.Peek()
		if !ok {
			return
		}
		if err := s.transmit(s.stamp(ev, gen)); err != nil {
			util.LogWarning("[%s] %v", s.ch.Label(), err)
			return
		}
		s.slot.Clear(gen)
	}
}

// Run is the fixed-rate loop: it resends the latest event at the configured
// byte rate while the buffered amount stays within the watermark. It
// returns when ctx is cancelled, Stop is called, or the channel is found
// closed. It returns immediately if the Sender is not in fixed-rate mode.
func (s *Sender) Run(ctx context.Context) {
	if !s.FixedRate() {
		return
	}

	for {
		if err := s.limiter.WaitN(ctx, frame.Size*Redundancy); err != nil {
			return // ctx cancelled
		}
		if s.stopped() || !s.ch.IsOpen() {
			return
		}

		// drainSignal may hold a token left from an earlier low event.
		for s.ch.BufferedAmount() > s.watermark {
			select {
			case <-s.drainSignal:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}

		ev, gen, ok := s.slot.Latest()
		if !ok {
			continue
		}

		s.pumpMu.Lock()
		err := s.transmit(s.stamp(ev, gen))
		s.pumpMu.Unlock()

		if err != nil {
			util.LogWarning("[%s] %v", s.ch.Label(), err)
			continue
		}
		s.slot.Clear(gen)
	}
}

// Stop ends Run and makes further Pump calls no-ops. Safe to call more than
// once and from the channel's own callbacks.
func (s *Sender) Stop() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed by Stop.
func (s *Sender) Done() <-chan struct{} { return s.done }

func (s *Sender) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// stamp returns the frame for the slot generation gen, numbering it on
// first use. Callers hold pumpMu.
func (s *Sender) stamp(ev notes.Event, gen uint64) frame.Frame {
	if s.stamped && s.stampGen == gen {
		return s.stampFrame
	}
	s.stamped = true
	s.stampGen = gen
	s.stampFrame = frame.Encode(s.seq(), ev.Note, ev.Velocity)
	return s.stampFrame
}

func (s *Sender) transmit(f frame.Frame) error {
	for i := 0; i < Redundancy; i++ {
		if err := s.ch.Send(f.Bytes()); err != nil {
			s.stats.AddSendFailure()
			return fmt.Errorf("%w: seq %d copy %d: %v", ErrSendFailure, f.Sequence(), i+1, err)
		}
		s.stats.AddSent()
	}
	return nil
}
