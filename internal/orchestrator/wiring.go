package orchestrator

import (
	"github.com/1ureka/midirtc/internal/flow"
	"github.com/1ureka/midirtc/internal/frame"
	"github.com/1ureka/midirtc/internal/notes"
	"github.com/1ureka/midirtc/internal/session"
	"github.com/1ureka/midirtc/internal/signaling"
	"github.com/1ureka/midirtc/internal/transport"
	"github.com/1ureka/midirtc/internal/util"
)

// wireConnection installs the lifecycle callbacks of s's connection. It
// must run before anything that can make the connection emit.
func (o *Orchestrator) wireConnection(s *session.Session) {
	conn := s.Conn()
	peer := s.Peer()

	conn.OnLocalDescription(func(typ, sdp string) {
		s.Transition(session.StateAwaitingRemoteInfo)
		o.send(signaling.Message{
			ID:          peer,
			Type:        signaling.MessageType(typ),
			Description: sdp,
		})
	})

	conn.OnLocalCandidate(func(candidate, mid string) {
		o.send(signaling.Message{
			ID:        peer,
			Type:      signaling.MsgTypeCandidate,
			Candidate: candidate,
			Mid:       mid,
		})
	})

	conn.OnStateChange(func(state transport.State) {
		util.LogDebug("connection to %s: %s", peer, state)

		switch state {
		case transport.StateConnected:
			if s.Transition(session.StateConnected) {
				util.LogSuccess("connected to %s (%s)", peer, s.Role())
			}
		case transport.StateDisconnected:
			util.LogWarning("connection to %s interrupted", peer)
		case transport.StateFailed, transport.StateClosed:
			if !s.Closed() {
				util.LogWarning("connection to %s %s", peer, state)
			}
			o.closeSession(s)
		}
	})

	conn.OnChannel(func(ch transport.Channel) {
		o.AcceptInboundChannel(s, ch)
	})
}

// send ships a signaling message. Failures are logged and the message is
// dropped; there is no outbound queue.
func (o *Orchestrator) send(msg signaling.Message) {
	if err := o.signaler.Send(msg); err != nil {
		util.LogWarning("dropping %s for %s: %v", msg.Type, msg.ID, err)
	}
}

// wireChannel attaches the frame receiver and, unless receive-only, a
// sender to ch.
func (o *Orchestrator) wireChannel(s *session.Session, ch transport.Channel) {
	label := ch.Label()

	ch.OnMessage(func(data []byte) {
		o.receive(s, data)
	})

	var snd *flow.Sender
	if !o.receiveOnly {
		snd = flow.NewSender(ch, o.senderOptions(s))
		o.mu.Lock()
		o.senders[s] = append(o.senders[s], snd)
		o.mu.Unlock()
	}

	onOpen := func() {
		util.LogInfo("[%s] open", label)
		if snd == nil {
			return
		}
		if snd.FixedRate() {
			go snd.Run(o.ctx)
			return
		}
		snd.Pump()
	}

	ch.OnOpen(onOpen)
	ch.OnClose(func() {
		util.LogInfo("[%s] closed", label)
		if snd != nil {
			snd.Stop()
			o.dropSender(s, snd)
		}
	})

	if ch.IsOpen() {
		onOpen()
	}
}

func (o *Orchestrator) dropSender(s *session.Session, snd *flow.Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()

	senders := o.senders[s]
	for i, cur := range senders {
		if cur == snd {
			o.senders[s] = append(senders[:i:i], senders[i+1:]...)
			break
		}
	}
	if len(o.senders[s]) == 0 {
		delete(o.senders, s)
	}
}

// receive validates one inbound message and forwards it to the sink if it
// carries a sequence number the session has not seen.
func (o *Orchestrator) receive(s *session.Session, data []byte) {
	o.stats.AddRecv()

	ev, err := frame.Decode(data)
	if err != nil {
		o.stats.AddCorrupt()
		util.LogDebug("dropping frame from %s: %v", s.Peer(), err)
		return
	}

	if !s.Receiver().Accept(ev.Sequence) {
		o.stats.AddDuplicate()
		return
	}
	o.stats.AddAccepted()

	o.sink.HandleNote(notes.Event{Note: ev.Note, Velocity: ev.Velocity})
}
