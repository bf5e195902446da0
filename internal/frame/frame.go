// Package frame defines the 4-byte wire format for MIDI note events sent
// over a data channel, and the sequence bookkeeping on both ends.
package frame

// Size is the fixed frame size: Sequence(1) + Note(1) + Velocity(1) + Checksum(1).
const Size = 4

// Modulus is the wrap point shared by the transmit counter and the receive
// filter. Both ends must agree, otherwise the receiver rejects every frame
// after the first wrap.
const Modulus = 256

// Byte offsets within a frame.
const (
	offSequence = 0
	offNote     = 1
	offVelocity = 2
	offChecksum = 3
)

// Frame is one encoded note event as it travels over the wire.
type Frame [Size]byte

// Event is a decoded, checksum-verified frame.
type Event struct {
	Sequence uint8
	Note     uint8
	Velocity uint8
}

// Bytes returns the frame as a slice suitable for Channel.Send.
func (f Frame) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, f[:])
	return b
}

func (f Frame) Sequence() uint8 { return f[offSequence] }
func (f Frame) Note() uint8     { return f[offNote] }
func (f Frame) Velocity() uint8 { return f[offVelocity] }
func (f Frame) Checksum() uint8 { return f[offChecksum] }
