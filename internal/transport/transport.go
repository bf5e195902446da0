// Package transport abstracts the peer-connection engine. Connection and
// Channel are the only surfaces the rest of the module touches; the pion
// implementation lives in peer.go and channel.go.
package transport

// State is the transport-reported connection state.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Description types carried in signaling messages.
const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Connection is one negotiated peer connection.
//
// Local descriptions and candidates are delivered through callbacks as they
// become available. A connection never emits a candidate before the local
// description it belongs to.
type Connection interface {
	// CreateChannel opens a new data channel (offerer side).
	CreateChannel(label string) (Channel, error)
	// Offer creates and applies a local offer, then emits it.
	Offer() error
	// SetRemoteDescription applies a remote description. Applying an offer
	// also creates, applies and emits the local answer.
	SetRemoteDescription(typ, sdp string) error
	// AddRemoteCandidate applies a remote ICE candidate.
	AddRemoteCandidate(candidate, mid string) error

	OnLocalDescription(fn func(typ, sdp string))
	OnLocalCandidate(fn func(candidate, mid string))
	OnStateChange(fn func(State))
	// OnChannel is invoked for channels opened by the remote side.
	OnChannel(fn func(Channel))

	Close() error
}

// Channel is a bidirectional message endpoint within a Connection.
type Channel interface {
	Label() string
	IsOpen() bool
	Send(data []byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)

	OnOpen(fn func())
	OnClose(fn func())
	OnBufferedAmountLow(fn func())
	// OnMessage receives binary messages only; text messages are ignored.
	OnMessage(fn func(data []byte))

	Close() error
}

// Factory creates Connections. *Engine is the production implementation.
type Factory interface {
	NewConnection() (Connection, error)
}
