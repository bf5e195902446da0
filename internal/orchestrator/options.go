package orchestrator

import (
	"github.com/1ureka/midirtc/internal/flow"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/session"
	"github.com/1ureka/midirtc/internal/util"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink delivers accepted inbound notes to sink.
func WithSink(sink notes.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithReceiveOnly disables the sender on every channel.
func WithReceiveOnly(receiveOnly bool) Option {
	return func(o *Orchestrator) { o.receiveOnly = receiveOnly }
}

// WithWatermark sets the buffered-amount ceiling for every sender.
func WithWatermark(bytes uint64) Option {
	return func(o *Orchestrator) { o.flowOpts.Watermark = bytes }
}

// WithFixedRate switches senders to the paced loop at bytesPerSecond.
// Zero keeps the event-driven default.
func WithFixedRate(bytesPerSecond int) Option {
	return func(o *Orchestrator) { o.flowOpts.BytesPerSecond = bytesPerSecond }
}

// WithStats counts frames into stats instead of a private counter set.
func WithStats(stats *util.Stats) Option {
	return func(o *Orchestrator) { o.stats = stats }
}

func (o *Orchestrator) senderOptions(s *session.Session) flow.Options {
	opts := o.flowOpts
	opts.Sequence = s.NextSequence
	opts.Stats = o.stats
	return opts
}
