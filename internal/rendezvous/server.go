// Package rendezvous is a minimal signaling relay. Each peer holds one
// websocket at /<id>; a text message naming another peer in its "id" field
// is forwarded to that peer with "id" rewritten to the sender.
package rendezvous

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/midirtc/internal/util"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrUnknownPeer is logged when a message names a peer that is not connected.
var ErrUnknownPeer = errors.New("unknown peer")

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serialises writes
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server relays signaling messages between connected peers.
type Server struct {
	mu      sync.Mutex
	clients map[string]*client
	httpSrv *http.Server
}

// NewServer creates an empty relay.
func NewServer() *Server {
	return &Server{clients: make(map[string]*client)}
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{id}", s.handleWS)
	return mux
}

// Start listens on addr (":0" picks a free port) and serves in the
// background. It returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start rendezvous server: %w", err)
	}

	s.mu.Lock()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("rendezvous server stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Close stops the listener and drops every connected peer.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.httpSrv
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		errs = append(errs, srv.Close())
	}
	for _, c := range clients {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// Peers returns the number of connected peers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{id: id, conn: conn}
	if !s.register(c) {
		util.LogWarning("rendezvous: refusing duplicate id %s", id)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "id already connected"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	util.LogDebug("rendezvous: %s connected", id)

	defer func() {
		s.unregister(c)
		conn.Close()
		util.LogDebug("rendezvous: %s disconnected", id)
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if err := s.forward(c, data); err != nil {
			util.LogDebug("rendezvous: %s: %v", id, err)
		}
	}
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[c.id]; exists {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
}

// forward rewrites the destination id to the sender and delivers the
// message. Fields other than id pass through untouched.
func (s *Server) forward(from *client, data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("bad message: %w", err)
	}

	var to string
	if err := json.Unmarshal(fields["id"], &to); err != nil || to == "" {
		return errors.New("bad message: missing id")
	}

	s.mu.Lock()
	dst, ok := s.clients[to]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}

	sender, _ := json.Marshal(from.id)
	fields["id"] = sender

	out, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return dst.write(out)
}
