// Package signaling is the client side of the rendezvous socket: it ships
// session descriptions and ICE candidates between peers as JSON envelopes
// addressed by peer id.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "candidate"
)

// ErrParse marks an inbound message that could not be used.
var ErrParse = errors.New("signaling parse error")

// Message is the JSON envelope exchanged over the rendezvous socket. On the
// way out ID names the recipient; on the way in it names the sender.
type Message struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	Description string      `json:"description,omitempty"`
	Candidate   string      `json:"candidate,omitempty"`
	Mid         string      `json:"mid,omitempty"`
}

// IsDescription reports whether the message carries an SDP.
func (m Message) IsDescription() bool {
	return m.Type == MsgTypeOffer || m.Type == MsgTypeAnswer
}

// Parse decodes a text frame. Messages without an id or a type are
// rejected with ErrParse.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if msg.ID == "" {
		return Message{}, fmt.Errorf("%w: missing id", ErrParse)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrParse)
	}
	return msg, nil
}
