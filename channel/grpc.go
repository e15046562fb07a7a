// File: channel/grpc.go
// Author: momentics <momentics@gmail.com>
//
// gRPC-transported channel for container-job runtime instances (spec
// §4.2/§4.3: "container-job runtimes; instance-aware service routing").
// Uses a raw byte-passthrough codec instead of generated protobuf stubs
// — the Message type already carries its own length-prefixed JSON
// encoding (channel.go's marshalFrame/unmarshalFrame), so gRPC here only
// needs to move opaque frames between peers, the same technique generic
// gRPC proxies use to avoid a fixed .proto contract.
package channel

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/lfedgeai/spearlet-core/api"
)

const rawCodecName = "spearlet-raw"

// rawCodec marshals/unmarshals *[]byte verbatim, letting channel.go's own
// framing own the actual wire shape.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, api.NewError(api.KindInternal, "EINVAL", "rawCodec expects *[]byte")
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return api.NewError(api.KindInternal, "EINVAL", "rawCodec expects *[]byte")
	}
	*b = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return rawCodecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

var channelStreamDesc = grpc.StreamDesc{
	StreamName:    "Channel",
	ServerStreams: true,
	ClientStreams: true,
}

const channelMethod = "/spearlet.Channel/Stream"

// grpcChannel implements CommunicationChannel over a single bidi-
// streaming gRPC call, framing Messages with the same JSON wire shape as
// streamChannel so both sides of marshalFrame/unmarshalFrame are reused.
type grpcChannel struct {
	instanceID api.RuntimeInstanceId
	conn       *grpc.ClientConn
	stream     grpc.ClientStream
	pending    *pendingTable
	seq        *requestIDSeq

	inbox chan Message
	done  chan struct{}
	once  sync.Once

	bytesSent, bytesReceived        atomic.Int64
	messagesSent, messagesReceived  atomic.Int64
	connected                       atomic.Bool
}

// dialGRPC dials addr (a pod's service endpoint) and opens the Channel
// stream used to carry framed Messages to a container-job instance.
func dialGRPC(id api.RuntimeInstanceId, addr string) (CommunicationChannel, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	if err != nil {
		return nil, ErrChannelCreationFailed.WithContext("addr", addr).WithContext("cause", err.Error())
	}

	stream, err := conn.NewStream(context.Background(), &channelStreamDesc, channelMethod)
	if err != nil {
		_ = conn.Close()
		return nil, ErrChannelCreationFailed.WithContext("cause", err.Error())
	}

	c := &grpcChannel{
		instanceID: id,
		conn:       conn,
		stream:     stream,
		pending:    newPendingTable(),
		seq:        newRequestIDSeq(id.String()),
		inbox:      make(chan Message, 64),
		done:       make(chan struct{}),
	}
	c.connected.Store(true)
	go c.recvLoop()
	return c, nil
}

func (c *grpcChannel) InstanceID() api.RuntimeInstanceId { return c.instanceID }

func (c *grpcChannel) Send(message Message) error {
	if !c.connected.Load() {
		return ErrChannelClosed
	}
	body, err := marshalFrame(message)
	if err != nil {
		return err
	}
	if err := c.stream.SendMsg(&body); err != nil {
		_ = c.Close()
		return ErrChannelClosed
	}
	c.bytesSent.Add(int64(len(body)))
	c.messagesSent.Add(1)
	return nil
}

func (c *grpcChannel) Receive() (Message, error) {
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

func (c *grpcChannel) RequestResponse(message Message, timeout time.Duration) (Message, error) {
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

func (c *grpcChannel) IsConnected() bool { return c.connected.Load() }

func (c *grpcChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.connected.Store(false)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *grpcChannel) GetStats() ChannelStats {
	return ChannelStats{
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Connected:        c.connected.Load(),
	}
}

func (c *grpcChannel) recvLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.inbox)
	}()
	for {
		var body []byte
		if err := c.stream.RecvMsg(&body); err != nil {
			if err != io.EOF {
				_ = err
			}
			return
		}
		c.bytesReceived.Add(int64(len(body)))
		c.messagesReceived.Add(1)

		if len(body) < 4 {
			continue
		}
		n := getUint32LE(body)
		if int(n) > len(body)-4 {
			continue
		}
		msg, err := unmarshalFrame(body[4 : 4+n])
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
