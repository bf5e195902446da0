package transport

import (
	"github.com/pion/webrtc/v4"
)

// channel adapts *webrtc.DataChannel to Channel.
type channel struct {
	raw *webrtc.DataChannel
}

var _ Channel = (*channel)(nil)

func newChannel(raw *webrtc.DataChannel) *channel {
	return &channel{raw: raw}
}

func (c *channel) Label() string { return c.raw.Label() }

func (c *channel) IsOpen() bool {
	return c.raw.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *channel) Send(data []byte) error                  { return c.raw.Send(data) }
func (c *channel) BufferedAmount() uint64                  { return c.raw.BufferedAmount() }
func (c *channel) SetBufferedAmountLowThreshold(th uint64) { c.raw.SetBufferedAmountLowThreshold(th) }

// OnOpen / OnClose / OnBufferedAmountLow proxy the underlying methods.
func (c *channel) OnOpen(fn func())              { c.raw.OnOpen(fn) }
func (c *channel) OnClose(fn func())             { c.raw.OnClose(fn) }
func (c *channel) OnBufferedAmountLow(fn func()) { c.raw.OnBufferedAmountLow(fn) }

func (c *channel) OnMessage(fn func(data []byte)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		fn(msg.Data)
	})
}

func (c *channel) Close() error { return c.raw.Close() }
