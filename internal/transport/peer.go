package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/midirtc/internal/util"
)

// DefaultSTUNServers are used for ICE candidate gathering. No TURN: links
// are meant to be direct peer to peer.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Options configures an Engine.
type Options struct {
	STUNServers []string
	// IncludeLoopback gathers 127.0.0.1 candidates. Only useful for
	// same-host links and tests.
	IncludeLoopback bool
}

// Engine creates pion-backed Connections sharing one API instance.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ Factory = (*Engine)(nil)

// NewEngine builds a pion API whose internal logging is routed to the
// process logger.
func NewEngine(opts Options) *Engine {
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	var config webrtc.Configuration
	if len(opts.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.STUNServers}}
	}

	return &Engine{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config: config,
	}
}

// NewConnection creates a PeerConnection with no channels.
func (e *Engine) NewConnection() (Connection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	c := &peerConnection{pc: pc}
	pc.OnICECandidate(c.handleICECandidate)
	return c, nil
}

// peerConnection adapts *webrtc.PeerConnection to Connection.
//
// pion starts gathering as soon as the local description is applied and may
// report candidates before we have emitted that description, so local
// candidates are held back until it has gone out. Remote candidates that
// arrive before the remote description are held back the same way.
type peerConnection struct {
	pc *webrtc.PeerConnection

	// emitMu serialises outbound emissions so description-then-candidates
	// order is preserved.
	emitMu      sync.Mutex
	descEmitted bool
	localQueue  []webrtc.ICECandidateInit

	mu          sync.Mutex
	onLocalDesc func(typ, sdp string)
	onLocalCand func(candidate, mid string)
	remoteQueue []webrtc.ICECandidateInit

	closeOnce sync.Once
	closeErr  error
}

func (c *peerConnection) CreateChannel(label string) (Channel, error) {
	// Unordered, no retransmits: frames are sent twice and filtered by
	// sequence on receipt, so late retransmissions are worthless.
	ordered := false
	retransmits := uint16(0)

	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		return nil, err
	}
	return newChannel(dc), nil
}

func (c *peerConnection) Offer() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("CreateOffer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	c.emitDescription(offer)
	return nil
}

func (c *peerConnection) SetRemoteDescription(typ, sdp string) error {
	sdpType := webrtc.NewSDPType(typ)
	if sdpType != webrtc.SDPTypeOffer && sdpType != webrtc.SDPTypeAnswer {
		return fmt.Errorf("unsupported description type %q", typ)
	}

	// Held across the pion call so AddRemoteCandidate cannot queue a
	// candidate after the queue has been drained.
	c.mu.Lock()
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp})
	queued := c.remoteQueue
	c.remoteQueue = nil
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	if err := c.addCandidates(queued); err != nil {
		return err
	}

	if sdpType != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	c.emitDescription(answer)
	return nil
}

func (c *peerConnection) AddRemoteCandidate(candidate, mid string) error {
	init := webrtc.ICECandidateInit{Candidate: candidate}
	if mid != "" {
		init.SDPMid = &mid
	}

	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.remoteQueue = append(c.remoteQueue, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

func (c *peerConnection) addCandidates(queued []webrtc.ICECandidateInit) error {
	var errs []error
	for _, init := range queued {
		if err := c.pc.AddICECandidate(init); err != nil {
			errs = append(errs, fmt.Errorf("AddICECandidate: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *peerConnection) OnLocalDescription(fn func(typ, sdp string)) {
	c.mu.Lock()
	c.onLocalDesc = fn
	c.mu.Unlock()
}

func (c *peerConnection) OnLocalCandidate(fn func(candidate, mid string)) {
	c.mu.Lock()
	c.onLocalCand = fn
	c.mu.Unlock()
}

func (c *peerConnection) OnStateChange(fn func(State)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(convertState(s))
	})
}

func (c *peerConnection) OnChannel(fn func(Channel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(newChannel(dc))
	})
}

// Close shuts down the PeerConnection. Safe to call more than once and from
// within any callback of this connection.
func (c *peerConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.pc.Close()
	})
	return c.closeErr
}

func (c *peerConnection) emitDescription(desc webrtc.SessionDescription) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	onDesc, onCand := c.onLocalDesc, c.onLocalCand
	c.mu.Unlock()

	if onDesc != nil {
		onDesc(desc.Type.String(), desc.SDP)
	}

	c.descEmitted = true
	queued := c.localQueue
	c.localQueue = nil
	if onCand != nil {
		for _, init := range queued {
			onCand(init.Candidate, candidateMid(init))
		}
	}
}

func (c *peerConnection) handleICECandidate(cand *webrtc.ICECandidate) {
	if cand == nil {
		return // end of gathering
	}
	init := cand.ToJSON()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if !c.descEmitted {
		c.localQueue = append(c.localQueue, init)
		return
	}

	c.mu.Lock()
	onCand := c.onLocalCand
	c.mu.Unlock()

	if onCand != nil {
		onCand(init.Candidate, candidateMid(init))
	}
}

func candidateMid(init webrtc.ICECandidateInit) string {
	if init.SDPMid == nil {
		return ""
	}
	return *init.SDPMid
}

func convertState(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		util.LogDebug("unknown PeerConnection state: %s", s.String())
		return StateNew
	}
}
