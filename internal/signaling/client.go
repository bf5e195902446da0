package signaling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/midirtc/internal/util"
)

const closeTimeout = time.Second

// ErrNotOpen is returned by Send when the socket is not open.
var ErrNotOpen = errors.New("signaling socket not open")

// Handler receives parsed inbound messages.
type Handler interface {
	HandleMessage(Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Message)

func (f HandlerFunc) HandleMessage(m Message) { f(m) }

// Client owns one rendezvous socket. Writes are serialised; Run is the
// only reader.
type Client struct {
	localID string
	conn    *websocket.Conn

	mu      sync.Mutex // guards writes and the fields below
	open    bool
	partner string
}

// Dial connects to baseURL + "/" + localID. A successful return means the
// socket is open.
func Dial(ctx context.Context, baseURL, localID string) (*Client, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + localID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rendezvous %s: %w", url, err)
	}
	util.LogDebug("rendezvous connected: %s", url)

	return &Client{localID: localID, conn: conn, open: true}, nil
}

// LocalID returns the id this client registered under.
func (c *Client) LocalID() string { return c.localID }

// PartnerID returns the id of the last peer a message was received from.
func (c *Client) PartnerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partner
}

// IsOpen reports whether the socket is still usable.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes msg to the socket. There is no outbound queue: if the socket
// is not open the message is dropped and ErrNotOpen returned.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrNotOpen
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", msg.Type, msg.ID, err)
	}
	return nil
}

// Run reads the socket until it fails or ctx is cancelled, handing every
// well-formed text message to h. Binary frames are ignored and malformed
// ones dropped. Run closes the socket before returning.
func (c *Client) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("rendezvous read failed: %w", err)
		}
		if typ != websocket.TextMessage {
			continue
		}

		msg, err := Parse(data)
		if err != nil {
			util.LogDebug("dropping signaling message: %v", err)
			continue
		}

		c.mu.Lock()
		c.partner = msg.ID
		c.mu.Unlock()

		h.HandleMessage(msg)
	}
}

// Close sends a normal close frame and shuts the socket. Safe to call more
// than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	c.mu.Unlock()

	return c.conn.Close()
}
