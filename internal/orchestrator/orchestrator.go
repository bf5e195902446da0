// Package orchestrator creates and wires peer sessions: it decides the
// offerer/answerer role, shuttles descriptions and candidates through the
// signaling socket, and attaches a frame receiver and sender to every
// channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/midirtc/internal/flow"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/session"
	"github.com/1ureka/midirtc/internal/signaling"
	"github.com/1ureka/midirtc/internal/transport"
	"github.com/1ureka/midirtc/internal/util"
)

var (
	// ErrConnectRejected is returned by Connect for an unusable peer id.
	ErrConnectRejected = errors.New("connect rejected")
	// ErrTransportRejected wraps a transport refusal of a remote
	// description or candidate. The session is closed when it occurs.
	ErrTransportRejected = errors.New("transport rejected")
)

// Signaler delivers outbound signaling messages. *signaling.Client
// satisfies it.
type Signaler interface {
	Send(signaling.Message) error
}

// Orchestrator owns the session registry for one local identity.
type Orchestrator struct {
	localID  string
	registry *session.Registry
	factory  transport.Factory
	signaler Signaler

	sink        notes.Sink
	receiveOnly bool
	flowOpts    flow.Options
	stats       *util.Stats

	ctx    context.Context // parent of fixed-rate loops
	cancel context.CancelFunc

	mu      sync.Mutex
	senders map[*session.Session][]*flow.Sender
}

var _ signaling.Handler = (*Orchestrator)(nil)

// New creates an Orchestrator. Inbound notes go nowhere unless WithSink is
// given.
func New(localID string, registry *session.Registry, factory transport.Factory, signaler Signaler, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		localID:  localID,
		registry: registry,
		factory:  factory,
		signaler: signaler,
		sink:     notes.Discard,
		stats:    &util.Stats{},
		ctx:      ctx,
		cancel:   cancel,
		senders:  make(map[*session.Session][]*flow.Sender),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LocalID returns the identity this node signals as.
func (o *Orchestrator) LocalID() string { return o.localID }

// Stats returns the frame counters shared by every channel.
func (o *Orchestrator) Stats() *util.Stats { return o.stats }

// ChannelLabel names the channel an offerer opens towards peer.
func (o *Orchestrator) ChannelLabel(peer string) string {
	return fmt.Sprintf("DC-%s-%s", o.localID, peer)
}

// Connect starts an offerer session towards peer. It returns once the
// offer has been started; negotiation completes asynchronously. An
// existing live session makes Connect a no-op.
func (o *Orchestrator) Connect(peer string) error {
	switch {
	case peer == "":
		return o.reject(peer, "empty peer id")
	case peer == o.localID:
		return o.reject(peer, "cannot connect to self")
	case !util.ValidPeerID(peer):
		return o.reject(peer, fmt.Sprintf("peer id must be %d alphanumeric characters", util.PeerIDLength))
	}

	if s, ok := o.registry.LookupConnection(peer); ok && !s.Closed() {
		util.LogInfo("already connected to %s (%s)", peer, s.State())
		return nil
	}

	conn, err := o.factory.NewConnection()
	if err != nil {
		return fmt.Errorf("failed to create connection to %s: %w", peer, err)
	}

	s := session.New(peer, session.RoleOfferer, conn)
	s.Transition(session.StateGatheringLocalInfo)
	o.wireConnection(s)

	label := o.ChannelLabel(peer)
	ch, err := conn.CreateChannel(label)
	if err != nil {
		s.Close()
		return fmt.Errorf("failed to create channel %s: %w", label, err)
	}

	o.registry.RegisterConnection(peer, s)
	o.registry.RegisterChannel(label, ch)
	s.AddChannel(ch)
	o.wireChannel(s, ch)

	util.LogInfo("connecting to %s", peer)
	if err := conn.Offer(); err != nil {
		o.closeSession(s)
		return fmt.Errorf("%w: offer to %s: %v", ErrTransportRejected, peer, err)
	}
	return nil
}

func (o *Orchestrator) reject(peer, reason string) error {
	err := fmt.Errorf("%w: %q: %s", ErrConnectRejected, peer, reason)
	util.LogWarning("%v", err)
	return err
}

// HandleMessage dispatches one inbound signaling message: to the existing
// session for its sender, to a new answerer session if it is an offer, or
// nowhere.
func (o *Orchestrator) HandleMessage(msg signaling.Message) {
	if msg.ID == o.localID {
		util.LogDebug("ignoring %s from own id", msg.Type)
		return
	}

	s, ok := o.registry.LookupConnection(msg.ID)
	if ok && s.Closed() {
		// A closed session only routes nothing; an offer replaces it.
		if msg.Type != signaling.MsgTypeOffer {
			util.LogDebug("discarding %s from %s: session closed", msg.Type, msg.ID)
			return
		}
		ok = false
	}

	if !ok {
		if msg.Type != signaling.MsgTypeOffer {
			util.LogDebug("discarding %s from %s: no session", msg.Type, msg.ID)
			return
		}
		var err error
		if s, err = o.answer(msg.ID); err != nil {
			util.LogError("%v", err)
			return
		}
	}

	if err := o.route(s, msg); err != nil {
		util.LogWarning("%v", err)
	}
}

// answer registers a new answerer session for peer.
func (o *Orchestrator) answer(peer string) (*session.Session, error) {
	conn, err := o.factory.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create connection for offer from %s: %w", peer, err)
	}

	s := session.New(peer, session.RoleAnswerer, conn)
	s.Transition(session.StateGatheringLocalInfo)
	o.wireConnection(s)
	o.registry.RegisterConnection(peer, s)

	util.LogInfo("incoming connection from %s", peer)
	return s, nil
}

func (o *Orchestrator) route(s *session.Session, msg signaling.Message) error {
	switch {
	case msg.IsDescription():
		return o.ApplyRemoteDescription(s, msg.Description, string(msg.Type))
	case msg.Type == signaling.MsgTypeCandidate:
		return o.ApplyRemoteCandidate(s, msg.Candidate, msg.Mid)
	default:
		util.LogDebug("ignoring unknown signaling type %q from %s", msg.Type, msg.ID)
		return nil
	}
}

// ApplyRemoteDescription hands a remote SDP to the session's connection.
// A refusal closes the session and is returned as ErrTransportRejected.
func (o *Orchestrator) ApplyRemoteDescription(s *session.Session, sdp, typ string) error {
	if err := s.Conn().SetRemoteDescription(typ, sdp); err != nil {
		o.closeSession(s)
		return fmt.Errorf("%w: %s from %s: %v", ErrTransportRejected, typ, s.Peer(), err)
	}
	return nil
}

// ApplyRemoteCandidate hands a remote ICE candidate to the session's
// connection. A refusal closes the session and is returned as
// ErrTransportRejected.
func (o *Orchestrator) ApplyRemoteCandidate(s *session.Session, candidate, mid string) error {
	if err := s.Conn().AddRemoteCandidate(candidate, mid); err != nil {
		o.closeSession(s)
		return fmt.Errorf("%w: candidate from %s: %v", ErrTransportRejected, s.Peer(), err)
	}
	return nil
}

// AcceptInboundChannel adopts a channel the remote side opened.
func (o *Orchestrator) AcceptInboundChannel(s *session.Session, ch transport.Channel) {
	if s.Closed() {
		ch.Close()
		return
	}

	o.registry.RegisterChannel(ch.Label(), ch)
	s.AddChannel(ch)
	o.wireChannel(s, ch)
	util.LogDebug("[%s] accepted from %s", ch.Label(), s.Peer())
}

// Publish offers ev to the sender of every live session. Each session
// numbers its frames from its own counter. It returns how many sessions
// the event was offered to; note-off events are not sent and return 0.
func (o *Orchestrator) Publish(ev notes.Event) int {
	if !ev.On() {
		return 0
	}

	n := 0
	for _, s := range o.registry.Sessions() {
		if s.Closed() {
			continue
		}

		o.mu.Lock()
		senders := append([]*flow.Sender(nil), o.senders[s]...)
		o.mu.Unlock()
		if len(senders) == 0 {
			continue
		}

		for _, snd := range senders {
			snd.Offer(ev)
		}
		n++
	}
	return n
}

// Sessions returns a snapshot of the registered sessions.
func (o *Orchestrator) Sessions() []*session.Session {
	return o.registry.Sessions()
}

// Close stops every fixed-rate loop and closes every session.
func (o *Orchestrator) Close() error {
	o.cancel()

	o.mu.Lock()
	all := o.senders
	o.senders = make(map[*session.Session][]*flow.Sender)
	o.mu.Unlock()

	for _, senders := range all {
		for _, snd := range senders {
			snd.Stop()
		}
	}
	return o.registry.Close()
}

func (o *Orchestrator) closeSession(s *session.Session) {
	if err := s.Close(); err != nil {
		util.LogDebug("closing session %s: %v", s.Peer(), err)
	}
	o.registry.Remove(s.Peer(), s)

	o.mu.Lock()
	senders := o.senders[s]
	delete(o.senders, s)
	o.mu.Unlock()

	for _, snd := range senders {
		snd.Stop()
	}
}
