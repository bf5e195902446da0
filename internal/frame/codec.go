package frame

import (
	"errors"
	"fmt"

	"github.com/sigurn/crc8"
)

var (
	// ErrMalformed is returned when the input is not exactly Size bytes.
	ErrMalformed = errors.New("malformed frame")
	// ErrChecksumMismatch is returned when the trailing CRC does not match
	// the three value bytes.
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
)

// CRC-8, polynomial 0x07, init 0x00, no reflection.
var crcTable = crc8.MakeTable(crc8.CRC8)

// checksum computes the CRC over the raw sequence, note and velocity bytes.
func checksum(seq, note, velocity uint8) uint8 {
	return checksumBytes([]byte{seq, note, velocity})
}

func checksumBytes(b []byte) uint8 {
	return crc8.Checksum(b, crcTable)
}

// Encode packs a note event into a frame and appends its checksum.
func Encode(seq, note, velocity uint8) Frame {
	var f Frame
	f[offSequence] = seq
	f[offNote] = note
	f[offVelocity] = velocity
	f[offChecksum] = checksum(seq, note, velocity)
	return f
}

// Decode validates and unpacks a frame received from a data channel.
func Decode(data []byte) (Event, error) {
	if len(data) != Size {
		return Event{}, fmt.Errorf("%w: %d bytes (need %d)", ErrMalformed, len(data), Size)
	}

	want := checksum(data[offSequence], data[offNote], data[offVelocity])
	if got := data[offChecksum]; got != want {
		return Event{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksumMismatch, got, want)
	}

	return Event{
		Sequence: data[offSequence],
		Note:     data[offNote],
		Velocity: data[offVelocity],
	}, nil
}
