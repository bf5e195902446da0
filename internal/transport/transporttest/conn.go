package transporttest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/1ureka/midirtc/internal/transport"
)

// Description records one SetRemoteDescription call.
type Description struct {
	Type, SDP string
}

// Candidate records one AddRemoteCandidate call.
type Candidate struct {
	Candidate, Mid string
}

// Conn is a fake transport.Connection. Offer and answering an offer emit a
// description followed by one candidate, mirroring real trickle order.
type Conn struct {
	id      int
	network *Network

	mu        sync.Mutex
	channels  []*Channel
	remote    []Description
	cands     []Candidate
	offers    int
	closed    bool
	descErr   error
	candErr   error
	onDesc    func(typ, sdp string)
	onCand    func(candidate, mid string)
	onState   func(transport.State)
	onChannel func(transport.Channel)
}

var _ transport.Connection = (*Conn)(nil)

// NewConn creates a standalone fake connection.
func NewConn() *Conn {
	return &Conn{}
}

// ID returns the identifier a Network assigned, or 0.
func (c *Conn) ID() int { return c.id }

func (c *Conn) CreateChannel(label string) (transport.Channel, error) {
	ch := NewChannel(label)
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *Conn) Offer() error {
	c.mu.Lock()
	c.offers++
	c.mu.Unlock()

	c.emit(transport.DescriptionOffer, fmt.Sprintf("fake-offer:%d", c.id))
	return nil
}

func (c *Conn) SetRemoteDescription(typ, sdp string) error {
	c.mu.Lock()
	if err := c.descErr; err != nil {
		c.mu.Unlock()
		return err
	}
	c.remote = append(c.remote, Description{Type: typ, SDP: sdp})
	c.mu.Unlock()

	switch typ {
	case transport.DescriptionOffer:
		if c.network != nil {
			if err := c.network.pair(c, sdp); err != nil {
				return err
			}
		}
		c.emit(transport.DescriptionAnswer, fmt.Sprintf("fake-answer:%d", c.id))
	case transport.DescriptionAnswer:
		if c.network != nil {
			c.network.establish(c)
		}
	}
	return nil
}

func (c *Conn) AddRemoteCandidate(candidate, mid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.candErr != nil {
		return c.candErr
	}
	c.cands = append(c.cands, Candidate{Candidate: candidate, Mid: mid})
	return nil
}

func (c *Conn) OnLocalDescription(fn func(typ, sdp string)) {
	c.mu.Lock()
	c.onDesc = fn
	c.mu.Unlock()
}

func (c *Conn) OnLocalCandidate(fn func(candidate, mid string)) {
	c.mu.Lock()
	c.onCand = fn
	c.mu.Unlock()
}

func (c *Conn) OnStateChange(fn func(transport.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Conn) OnChannel(fn func(transport.Channel)) {
	c.mu.Lock()
	c.onChannel = fn
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.EmitState(transport.StateClosed)
	return nil
}

// ---------------------------------------------------------------------------
// Test controls
// ---------------------------------------------------------------------------

// FailRemoteDescriptions makes SetRemoteDescription return err.
func (c *Conn) FailRemoteDescriptions(err error) {
	c.mu.Lock()
	c.descErr = err
	c.mu.Unlock()
}

// FailCandidates makes AddRemoteCandidate return err.
func (c *Conn) FailCandidates(err error) {
	c.mu.Lock()
	c.candErr = err
	c.mu.Unlock()
}

// EmitState fires the OnStateChange handler.
func (c *Conn) EmitState(s transport.State) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitChannel fires the OnChannel handler as if the remote opened ch.
func (c *Conn) EmitChannel(ch *Channel) {
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	fn := c.onChannel
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// Channels returns every channel created on or accepted by this Conn.
func (c *Conn) Channels() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Channel(nil), c.channels...)
}

// RemoteDescriptions returns every applied remote description.
func (c *Conn) RemoteDescriptions() []Description {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Description(nil), c.remote...)
}

// RemoteCandidates returns every applied remote candidate.
func (c *Conn) RemoteCandidates() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Candidate(nil), c.cands...)
}

// Offers returns how many times Offer was called.
func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) emit(typ, sdp string) {
	c.mu.Lock()
	onDesc, onCand := c.onDesc, c.onCand
	c.mu.Unlock()

	if onDesc != nil {
		onDesc(typ, sdp)
	}
	if onCand != nil {
		onCand(fmt.Sprintf("candidate:%d 1 udp 1 127.0.0.1 9 typ host", c.id), "0")
	}
}

// ---------------------------------------------------------------------------
// Factory and Network
// ---------------------------------------------------------------------------

// Factory is a transport.Factory handing out fake Conns.
type Factory struct {
	network *Network

	mu    sync.Mutex
	conns []*Conn
	err   error
}

var _ transport.Factory = (*Factory)(nil)

// NewFactory creates a factory whose Conns are not connected to anything.
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NewConnection() (transport.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	c := NewConn()
	if f.network != nil {
		c = f.network.add()
	}
	f.conns = append(f.conns, c)
	return c, nil
}

// Fail makes NewConnection return err.
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Conns returns every Conn created so far.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Network pairs Conns created by its factories. An answerer is paired with
// the offerer named in the offer SDP; when the offerer applies the answer,
// both sides report StateConnected and every offerer channel gets a linked
// mirror on the answerer, announced through OnChannel, and both ends open.
type Network struct {
	mu     sync.Mutex
	nextID int
	conns  map[int]*Conn
	peers  map[*Conn]*Conn
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		conns: make(map[int]*Conn),
		peers: make(map[*Conn]*Conn),
	}
}

// Factory returns a factory whose Conns join this network.
func (n *Network) Factory() *Factory {
	return &Factory{network: n}
}

func (n *Network) add() *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	c := &Conn{id: n.nextID, network: n}
	n.conns[c.id] = c
	return c
}

func (n *Network) pair(answerer *Conn, offerSDP string) error {
	idStr, ok := strings.CutPrefix(offerSDP, "fake-offer:")
	if !ok {
		return fmt.Errorf("not a fake offer: %q", offerSDP)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return fmt.Errorf("bad fake offer id: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	offerer, ok := n.conns[id]
	if !ok {
		return fmt.Errorf("unknown offerer %d", id)
	}
	n.peers[offerer] = answerer
	n.peers[answerer] = offerer
	return nil
}

func (n *Network) establish(offerer *Conn) {
	n.mu.Lock()
	answerer, ok := n.peers[offerer]
	n.mu.Unlock()
	if !ok {
		return
	}

	offerer.EmitState(transport.StateConnected)
	answerer.EmitState(transport.StateConnected)

	for _, local := range offerer.Channels() {
		remote := NewChannel(local.Label())
		LinkChannels(local, remote)
		answerer.EmitChannel(remote)
		remote.Open()
		local.Open()
	}
}
