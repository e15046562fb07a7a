// File: channel/stream.go
// Author: momentics <momentics@gmail.com>
//
// streamChannel implements CommunicationChannel over any net.Conn, used
// by both the unix-domain-socket and TCP variants (spec §4.2: "unix
// domain socket: local process runtimes"; "TCP: network fallback").
// Grounded on protocol/connection.go's WSConnection inbox/outbox/recv-
// loop/send-loop shape, generalized from WebSocket frames to the
// length-prefixed Message frames this package defines.
package channel

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

type streamChannel struct {
	instanceID api.RuntimeInstanceId
	conn       net.Conn
	pending    *pendingTable
	seq        *requestIDSeq

	inbox chan Message
	done  chan struct{}
	once  sync.Once

	bytesSent, bytesReceived     atomic.Int64
	messagesSent, messagesReceived atomic.Int64
	connected                    atomic.Bool
}

// newStreamChannel wraps conn in a CommunicationChannel and starts its
// background receive loop.
func newStreamChannel(id api.RuntimeInstanceId, conn net.Conn) *streamChannel {
	c := &streamChannel{
		instanceID: id,
		conn:       conn,
		pending:    newPendingTable(),
		seq:        newRequestIDSeq(id.String()),
		inbox:      make(chan Message, 64),
		done:       make(chan struct{}),
	}
	c.connected.Store(true)
	go c.recvLoop()
	return c
}

func (c *streamChannel) InstanceID() api.RuntimeInstanceId { return c.instanceID }

func (c *streamChannel) Send(message Message) error {
	if !c.connected.Load() {
		return ErrChannelClosed
	}
	frame, err := marshalFrame(message)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		_ = c.Close()
		return ErrChannelClosed
	}
	c.bytesSent.Add(int64(len(frame)))
	c.messagesSent.Add(1)
	return nil
}

func (c *streamChannel) Receive() (Message, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return Message{}, ErrChannelClosed
		}
		return msg, nil
	case <-c.done:
		return Message{}, ErrChannelClosed
	}
}

func (c *streamChannel) RequestResponse(message Message, timeout time.Duration) (Message, error) {
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
	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		c.pending.cancel(message.RequestID)
		return Message{}, ErrTimeout
	case <-c.done:
		c.pending.cancel(message.RequestID)
		return Message{}, ErrChannelClosed
	}
}

func (c *streamChannel) IsConnected() bool { return c.connected.Load() }

func (c *streamChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.connected.Store(false)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *streamChannel) GetStats() ChannelStats {
	return ChannelStats{
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Connected:        c.connected.Load(),
	}
}

// recvLoop reads length-prefixed frames off conn, routing Response
// frames that match an outstanding request_response waiter directly to
// it, and everything else (Request/Signal/Ack, or unmatched Responses)
// into inbox for Receive().
func (c *streamChannel) recvLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.inbox)
	}()

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			return
		}
		n := getUint32LE(header)
		body := make([]byte, n)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return
		}
		c.bytesReceived.Add(int64(4 + n))
		c.messagesReceived.Add(1)

		msg, err := unmarshalFrame(body)
		if err != nil {
			continue
		}
		if msg.Kind == KindResponse && c.pending.deliver(msg) {
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// dialUnix opens a unix-domain-socket channel to path, the process
// adapter's transport (spec §4.3 process adapter).
func dialUnix(id api.RuntimeInstanceId, path string) (CommunicationChannel, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, ErrChannelCreationFailed.WithContext("path", path).WithContext("cause", err.Error())
	}
	return newStreamChannel(id, conn), nil
}

// dialTCP opens a TCP channel to addr. CreateChannelForInstance uses it
// as the last fallback for process and kubernetes kinds when
// Config.TCPAddr is set; ProcessAdapter does not dial, it accepts the
// child's handshake connection instead.
func dialTCP(id api.RuntimeInstanceId, addr string) (CommunicationChannel, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, ErrChannelCreationFailed.WithContext("addr", addr).WithContext("cause", err.Error())
	}
	return newStreamChannel(id, conn), nil
}

// acceptTCP wraps an already-accepted net.Conn (post handshake-secret
// verification) as a channel, for the process adapter's listen side.
func acceptTCP(id api.RuntimeInstanceId, conn net.Conn) CommunicationChannel {
	return newStreamChannel(id, conn)
}

// HandshakeEnvelope is the JSON greeting a spawned process adapter child
// sends immediately after connecting, matching spec §4.3's
// SERVICE_ADDR/SECRET injection contract.
type HandshakeEnvelope struct {
	Secret int64 `json:"secret"`
}

// VerifyHandshake reads and validates the child's handshake frame,
// returning an error if the secret does not match.
func VerifyHandshake(conn net.Conn, wantSecret int64) error {
	secret, err := PeekHandshakeSecret(conn)
	if err != nil {
		return err
	}
	if secret != wantSecret {
		return api.NewError(api.KindPermanent, "EINVAL", "handshake secret mismatch")
	}
	return nil
}

// PeekHandshakeSecret reads the handshake frame off conn and returns the
// secret it carries, without comparing it against an expected value —
// used by the process adapter's shared accept loop to route an inbound
// connection to the CreateInstance call that is waiting on that secret.
func PeekHandshakeSecret(conn net.Conn) (int64, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, err
	}
	body := make([]byte, getUint32LE(header))
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, err
	}
	var hs HandshakeEnvelope
	if err := json.Unmarshal(body, &hs); err != nil {
		return 0, ErrSerialization
	}
	return hs.Secret, nil
}

// AcceptHandshakedConn wraps an already-accepted, handshake-verified
// net.Conn as a channel for the process adapter's listen side.
func AcceptHandshakedConn(id api.RuntimeInstanceId, conn net.Conn) CommunicationChannel {
	return acceptTCP(id, conn)
}
