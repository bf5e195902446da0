package session

// State is a Session's position in the negotiation lifecycle. States only
// move forward; Closed is terminal.
type State int

const (
	StateNew State = iota
	StateGatheringLocalInfo
	StateAwaitingRemoteInfo
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateGatheringLocalInfo:
		return "gathering-local-info"
	case StateAwaitingRemoteInfo:
		return "awaiting-remote-info"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role is the side a Session plays in the offer/answer handshake.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}
