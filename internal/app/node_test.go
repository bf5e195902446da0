package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/midirtc/internal/config"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/rendezvous"
	"github.com/1ureka/midirtc/internal/session"
	"github.com/1ureka/midirtc/internal/transport"
	"github.com/1ureka/midirtc/internal/transport/transporttest"
)

type noteLog struct {
	mu     sync.Mutex
	events []notes.Event
}

func (l *noteLog) HandleNote(e notes.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *noteLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *noteLog) first() notes.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[0]
}

func startRelay(t *testing.T) string {
	t.Helper()
	srv := rendezvous.NewServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func startNode(t *testing.T, url, id string, factory transport.Factory, sink notes.Sink) *Node {
	t.Helper()
	cfg := config.Default()
	cfg.RendezvousURL = url
	cfg.LocalID = id
	cfg.STUNServers = nil

	n, err := Start(context.Background(), Options{Config: cfg, Sink: sink, Factory: factory})
	if err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func connectedTo(n *Node, peer string) bool {
	for _, s := range n.Orchestrator().Sessions() {
		if s.Peer() == peer && s.State() == session.StateConnected {
			return true
		}
	}
	return false
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.RendezvousURL = "http://nope"

	if _, err := Start(context.Background(), Options{Config: cfg}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected config.ErrInvalid, got %v", err)
	}
}

func TestStartUnreachableRendezvous(t *testing.T) {
	cfg := config.Default()
	cfg.RendezvousURL = "ws://127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Start(ctx, Options{Config: cfg, Factory: transporttest.NewFactory()}); err == nil {
		t.Fatal("expected Start to fail without a rendezvous server")
	}
}

// TestNodesOverRelay runs two nodes through a real relay with fake
// transports: aaaa connects to bbbb and a note crosses.
func TestNodesOverRelay(t *testing.T) {
	url := startRelay(t)
	network := transporttest.NewNetwork()

	sinkB := &noteLog{}
	a := startNode(t, url, "aaaa", network.Factory(), nil)
	b := startNode(t, url, "bbbb", network.Factory(), sinkB)

	if err := a.Connect("bbbb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, 5*time.Second, "both sides connected", func() bool {
		return connectedTo(a, "bbbb") && connectedTo(b, "aaaa")
	})
	if b.PartnerID() != "aaaa" {
		t.Fatalf("b.PartnerID() = %q, want aaaa", b.PartnerID())
	}

	waitFor(t, 5*time.Second, "note delivery", func() bool {
		a.Publish(notes.Event{Note: 60, Velocity: 100})
		return sinkB.len() > 0
	})
	if got := sinkB.first(); got != (notes.Event{Note: 60, Velocity: 100}) {
		t.Fatalf("b received %+v", got)
	}
}

func TestPipe(t *testing.T) {
	url := startRelay(t)
	network := transporttest.NewNetwork()

	sinkB := &noteLog{}
	a := startNode(t, url, "aaaa", network.Factory(), nil)
	b := startNode(t, url, "bbbb", network.Factory(), sinkB)

	if err := a.Connect("bbbb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, 5*time.Second, "both sides connected", func() bool {
		return connectedTo(a, "bbbb") && connectedTo(b, "aaaa")
	})

	src := notes.NewChanSource(4)
	done := make(chan struct{})
	go func() {
		a.Pipe(src)
		close(done)
	}()

	waitFor(t, 5*time.Second, "piped note delivery", func() bool {
		src.Push(notes.Event{Note: 64, Velocity: 80})
		return sinkB.len() > 0
	})

	src.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe did not return after the source closed")
	}
}

// TestNodesOverPion is the full stack: relay, signaling client,
// orchestrator and real pion connections on loopback.
func TestNodesOverPion(t *testing.T) {
	if testing.Short() {
		t.Skip("pion loopback negotiation")
	}

	url := startRelay(t)
	engine := transport.NewEngine(transport.Options{IncludeLoopback: true})

	sinkA, sinkB := &noteLog{}, &noteLog{}
	a := startNode(t, url, "aaaa", engine, sinkA)
	b := startNode(t, url, "bbbb", engine, sinkB)

	if err := a.Connect("bbbb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, 20*time.Second, "pion session", func() bool {
		return connectedTo(a, "bbbb") && connectedTo(b, "aaaa")
	})

	waitFor(t, 10*time.Second, "a -> b note", func() bool {
		a.Publish(notes.Event{Note: 60, Velocity: 100})
		return sinkB.len() > 0
	})
	waitFor(t, 10*time.Second, "b -> a note", func() bool {
		b.Publish(notes.Event{Note: 48, Velocity: 70})
		return sinkA.len() > 0
	})
}

func TestCloseIsIdempotent(t *testing.T) {
	url := startRelay(t)
	n := startNode(t, url, "aaaa", transporttest.NewFactory(), nil)

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-n.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}
