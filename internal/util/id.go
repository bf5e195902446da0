// Package util provides logging, statistics and identifier helpers shared
// by every other package.
package util

import (
	"crypto/rand"
)

// PeerIDLength is the length of a peer identity.
const PeerIDLength = 4

const peerIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewPeerID returns a random alphanumeric identity of PeerIDLength characters.
func NewPeerID() string {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected so every character is equally likely.
	limit := byte(256 - 256%len(peerIDAlphabet))

	id := make([]byte, 0, PeerIDLength)
	buf := make([]byte, PeerIDLength*2)
	for len(id) < PeerIDLength {
		// crypto/rand.Read never returns an error; it crashes the
		// program if the system source fails.
		rand.Read(buf)
		for _, b := range buf {
			if b >= limit || len(id) == PeerIDLength {
				continue
			}
			id = append(id, peerIDAlphabet[int(b)%len(peerIDAlphabet)])
		}
	}
	return string(id)
}

// ValidPeerID reports whether id has the shape NewPeerID produces.
func ValidPeerID(id string) bool {
	if len(id) != PeerIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('0' <= c && c <= '9' || 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z') {
			return false
		}
	}
	return true
}
