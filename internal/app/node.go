// Package app wires configuration, the rendezvous client, the transport
// engine and the orchestrator into a running node.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/midirtc/internal/config"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/orchestrator"
	"github.com/1ureka/midirtc/internal/session"
	"github.com/1ureka/midirtc/internal/signaling"
	"github.com/1ureka/midirtc/internal/transport"
	"github.com/1ureka/midirtc/internal/util"
)

// StatsInterval is how often frame statistics are logged.
const StatsInterval = 5 * time.Second

// Options configures a Node beyond what Config carries.
type Options struct {
	Config config.Config
	// Sink receives accepted inbound notes. Nil discards them.
	Sink notes.Sink
	// Factory overrides the pion engine built from Config.
	Factory transport.Factory
	// Stats, if set, collects frame counters. A private set is used
	// otherwise.
	Stats *util.Stats
}

// Node is one running peer: a rendezvous socket and the sessions
// negotiated through it.
type Node struct {
	localID string
	client  *signaling.Client
	orch    *orchestrator.Orchestrator

	ctx     context.Context
	cancel  context.CancelFunc
	sigDone chan error
}

// Start brings a node up:
//  1. Pick the local identity
//  2. Build the transport engine
//  3. Connect to the rendezvous server
//  4. Create the orchestrator and start dispatching signaling
//  5. Start the stats reporter
//
// The node runs until ctx is cancelled or Close is called.
func Start(ctx context.Context, opts Options) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// ── 1. Local identity ──────────────────────────────────────────────
	localID := cfg.LocalID
	if localID == "" {
		localID = util.NewPeerID()
	}

	// ── 2. Transport engine ────────────────────────────────────────────
	factory := opts.Factory
	if factory == nil {
		factory = transport.NewEngine(transport.Options{STUNServers: cfg.STUNServers})
	}

	// ── 3. Rendezvous ──────────────────────────────────────────────────
	client, err := signaling.Dial(ctx, cfg.RendezvousURL, localID)
	if err != nil {
		return nil, err
	}

	// ── 4. Orchestrator ────────────────────────────────────────────────
	stats := opts.Stats
	if stats == nil {
		stats = &util.Stats{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = notes.Discard
	}

	orch := orchestrator.New(localID, session.NewRegistry(), factory, client,
		orchestrator.WithSink(sink),
		orchestrator.WithStats(stats),
		orchestrator.WithReceiveOnly(cfg.ReceiveOnly),
		orchestrator.WithWatermark(cfg.BufferWatermarkBytes),
		orchestrator.WithFixedRate(cfg.BytesPerSecond()),
	)

	nodeCtx, cancel := context.WithCancel(ctx)
	n := &Node{
		localID: localID,
		client:  client,
		orch:    orch,
		ctx:     nodeCtx,
		cancel:  cancel,
		sigDone: make(chan error, 1),
	}

	go func() {
		err := client.Run(nodeCtx, orch)
		if nodeCtx.Err() == nil {
			util.LogWarning("rendezvous connection lost, established sessions continue: %v", err)
		}
		n.sigDone <- err
	}()

	// ── 5. Stats ───────────────────────────────────────────────────────
	util.StartStatsReporter(nodeCtx, stats, StatsInterval)

	util.LogSuccess("registered as %s at %s", localID, cfg.RendezvousURL)
	return n, nil
}

// LocalID returns the identity this node registered under.
func (n *Node) LocalID() string { return n.localID }

// PartnerID returns the last peer a signaling message came from.
func (n *Node) PartnerID() string { return n.client.PartnerID() }

// Orchestrator exposes the node's session orchestrator.
func (n *Node) Orchestrator() *orchestrator.Orchestrator { return n.orch }

// Connect starts a session with peer.
func (n *Node) Connect(peer string) error {
	return n.orch.Connect(peer)
}

// Publish sends ev to every connected peer.
func (n *Node) Publish(ev notes.Event) int {
	return n.orch.Publish(ev)
}

// Pipe publishes every event from src until src is closed or the node
// stops.
func (n *Node) Pipe(src notes.Source) {
	events := src.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if sent := n.Publish(ev); sent == 0 {
				util.LogDebug("note %d not sent: note-off or no connected peer", ev.Note)
			}
		case <-n.ctx.Done():
			return
		}
	}
}

// Done is closed when the node stops.
func (n *Node) Done() <-chan struct{} { return n.ctx.Done() }

// Close tears down every session and the rendezvous socket.
func (n *Node) Close() error {
	n.cancel()
	errs := []error{n.orch.Close(), n.client.Close()}

	if err := <-n.sigDone; err != nil && !errors.Is(err, context.Canceled) {
		util.LogDebug("signaling loop ended: %v", err)
	}
	n.sigDone <- nil // later Close calls must not block

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close node %s: %w", n.localID, err)
	}
	return nil
}
