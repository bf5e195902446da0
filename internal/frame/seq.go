package frame

import (
	"sync"
	"sync/atomic"
)

// Counter is a per-session transmit sequence generator. It is shared
// between the note producer and any send loop, so all operations are atomic.
type Counter struct {
	val atomic.Uint32
}

// Next returns the current sequence number and advances the counter.
// The first call returns 0; the value wraps after Modulus-1.
func (c *Counter) Next() uint8 {
	return uint8((c.val.Add(1) - 1) % Modulus)
}

// Receiver filters duplicate and out-of-order frames on the receiving side.
// Redundant sends mean every frame normally arrives twice; only the first
// copy carrying the expected sequence number is accepted.
type Receiver struct {
	mu       sync.Mutex
	expected uint8
}

// NewReceiver creates a receiver expecting sequence number 0.
func NewReceiver() *Receiver {
	return &Receiver{}
}

// NewReceiverAt creates a receiver expecting the given sequence number.
func NewReceiverAt(expected uint8) *Receiver {
	return &Receiver{expected: expected}
}

// Accept reports whether seq is the expected sequence number. On a match
// the expectation advances (mod Modulus); a mismatch leaves it unchanged.
// Nothing is buffered or reordered.
func (r *Receiver) Accept(seq uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq != r.expected {
		return false
	}
	r.expected++ // uint8 overflow is the Modulus wrap
	return true
}

// Expected returns the next sequence number the receiver will accept.
func (r *Receiver) Expected() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected
}
