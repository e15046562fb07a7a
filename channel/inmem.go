// File: channel/inmem.go
// Author: momentics <momentics@gmail.com>
//
// In-memory channel pair for wasm runtime instances (spec §4.2: "wasm
// runtime (same-process bidirectional queues)"). Grounded on
// protocol/connection.go's inbox/outbox channel pair, with the transport
// itself elided since both ends live in the same process.
package channel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

type inmemChannel struct {
	instanceID api.RuntimeInstanceId
	pending    *pendingTable
	seq        *requestIDSeq

	send chan Message // this side writes here
	recv chan Message // this side reads here

	done chan struct{}
	once sync.Once

	messagesSent, messagesReceived atomic.Int64
	connected                      atomic.Bool
}

// NewInMemoryPair returns two channels, each the other's peer, wired so
// that Send on one delivers to Receive/RequestResponse on the other —
// used to connect a wasm instance's guest-facing hostcall table to the
// host-side function service without any serialization round trip.
func NewInMemoryPair(id api.RuntimeInstanceId) (host CommunicationChannel, guest CommunicationChannel) {
	aToB := make(chan Message, 64)
	bToA := make(chan Message, 64)

	h := &inmemChannel{instanceID: id, pending: newPendingTable(), seq: newRequestIDSeq(id.String()), send: aToB, recv: bToA, done: make(chan struct{})}
	g := &inmemChannel{instanceID: id, pending: newPendingTable(), seq: newRequestIDSeq(id.String()), send: bToA, recv: aToB, done: make(chan struct{})}
	h.connected.Store(true)
	g.connected.Store(true)

	go h.dispatchLoop()
	go g.dispatchLoop()
	return h, g
}

// dispatchLoop only blocks until this side is closed; routing of inbound
// Response frames to request_response waiters is done by Receive and
// RequestResponse themselves as they read recv.
func (c *inmemChannel) dispatchLoop() {
	// The peer's dispatchLoop drains its own recv; this side only needs
	// to intercept Responses addressed to an outstanding waiter before
	// they would otherwise sit in recv for Receive() to pick up. Since
	// recv is shared with the peer's send channel directly, interception
	// happens lazily inside Receive/RequestResponse instead of a
	// separate goroutine reading recv — nothing to do here beyond
	// waiting for close.
	<-c.done
}

func (c *inmemChannel) InstanceID() api.RuntimeInstanceId { return c.instanceID }

func (c *inmemChannel) Send(message Message) error {
	if !c.connected.Load() {
		return ErrChannelClosed
	}
	select {
	case c.send <- message:
		c.messagesSent.Add(1)
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

func (c *inmemChannel) Receive() (Message, error) {
	for {
		select {
		case msg, ok := <-c.recv:
			if !ok {
				return Message{}, ErrChannelClosed
			}
			c.messagesReceived.Add(1)
			if msg.Kind == KindResponse && c.pending.deliver(msg) {
				continue
			}
			return msg, nil
		case <-c.done:
			return Message{}, ErrChannelClosed
		}
	}
}

func (c *inmemChannel) RequestResponse(message Message, timeout time.Duration) (Message, error) {
	if message.RequestID == "" {
		message.RequestID = c.seq.next()
	}
	waiter, err := c.pending.register(message.RequestID)
	if err != nil {
		return Message{}, err
	}
	if err := c.Send(message); err != nil {
		c.pending.cancel(message.RequestID)
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case resp := <-waiter:
			return resp, nil
		case msg, ok := <-c.recv:
			if !ok {
				c.pending.cancel(message.RequestID)
				return Message{}, ErrChannelClosed
			}
			c.messagesReceived.Add(1)
			// Not our response: route through the pending table same as
			// Receive() does, in case it matches a *different* waiter
			// that registered concurrently; otherwise drop (signals
			// arriving mid-RequestResponse are not buffered past this
			// call, matching the single in-flight correlation contract).
			if msg.Kind != KindResponse || !c.pending.deliver(msg) {
				continue
			}
		case <-timer.C:
			c.pending.cancel(message.RequestID)
			return Message{}, ErrTimeout
		case <-c.done:
			c.pending.cancel(message.RequestID)
			return Message{}, ErrChannelClosed
		}
	}
}

func (c *inmemChannel) IsConnected() bool { return c.connected.Load() }

func (c *inmemChannel) Close() error {
	c.once.Do(func() {
		c.connected.Store(false)
		close(c.done)
	})
	return nil
}

func (c *inmemChannel) GetStats() ChannelStats {
	return ChannelStats{
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Connected:        c.connected.Load(),
	}
}
