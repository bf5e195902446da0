// Package transporttest provides in-memory Connection and Channel fakes for
// tests, plus a Network that pairs fake connections the way a real
// offer/answer exchange would.
package transporttest

import (
	"errors"
	"sync"

	"github.com/1ureka/midirtc/internal/transport"
)

// ErrClosed is returned by Send on a channel that is not open.
var ErrClosed = errors.New("channel not open")

// Channel is a fake transport.Channel. Callbacks are invoked synchronously
// from the method that triggers them, with no lock held.
type Channel struct {
	label string

	mu        sync.Mutex
	open      bool
	closed    bool
	buffered  uint64
	threshold uint64
	growth    uint64 // added to buffered on every Send
	sendErr   error
	sent      [][]byte
	peer      *Channel

	onOpen    func()
	onClose   func()
	onLow     func()
	onMessage func([]byte)
}

var _ transport.Channel = (*Channel)(nil)

// NewChannel creates a closed, unlinked channel.
func NewChannel(label string) *Channel {
	return &Channel{label: label}
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send records data and forwards it to the linked peer, if any.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), data...)
	c.sent = append(c.sent, cp)
	c.buffered += c.growth
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.Deliver(cp)
	}
	return nil
}

func (c *Channel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *Channel) SetBufferedAmountLowThreshold(th uint64) {
	c.mu.Lock()
	c.threshold = th
	c.mu.Unlock()
}

// Threshold returns the last value passed to SetBufferedAmountLowThreshold.
func (c *Channel) Threshold() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Channel) OnBufferedAmountLow(fn func()) {
	c.mu.Lock()
	c.onLow = fn
	c.mu.Unlock()
}

func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Close marks the channel closed and fires OnClose once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// Open marks the channel open and fires OnOpen.
func (c *Channel) Open() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// SetBuffered sets the reported buffered amount without firing callbacks.
func (c *Channel) SetBuffered(n uint64) {
	c.mu.Lock()
	c.buffered = n
	c.mu.Unlock()
}

// GrowOnSend makes every successful Send add n to the buffered amount.
func (c *Channel) GrowOnSend(n uint64) {
	c.mu.Lock()
	c.growth = n
	c.mu.Unlock()
}

// Drain sets the buffered amount to n and fires OnBufferedAmountLow if n
// is at or below the threshold.
func (c *Channel) Drain(n uint64) {
	c.mu.Lock()
	c.buffered = n
	fire := n <= c.threshold
	fn := c.onLow
	c.mu.Unlock()

	if fire && fn != nil {
		fn()
	}
}

// FailSends makes every subsequent Send return err (nil restores).
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Deliver invokes the OnMessage handler as if data had arrived.
func (c *Channel) Deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()

	if fn != nil {
		fn(data)
	}
}

// Sent returns a copy of everything sent so far.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LinkChannels connects a and b so that Send on one delivers to the other.
func LinkChannels(a, b *Channel) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}
