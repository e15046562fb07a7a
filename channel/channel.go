// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
//
// Package channel implements the instance-scoped, full-duplex transport
// abstraction (spec §4.2, C2): CommunicationChannel plus its unix/tcp/
// gRPC/in-memory variants, length-prefixed message framing, and
// request/response correlation by request id.
package channel

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

// MessageKind enumerates the four message categories sharing the wire.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindResponse
	KindSignal
	KindAck
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindSignal:
		return "signal"
	case KindAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Message is the envelope carried over a channel. Payload holds the
// marshaled ExecutionRequest/ExecutionResponse/signal body.
type Message struct {
	Kind      MessageKind
	RequestID string
	Payload   []byte
}

// ChannelStats is the snapshot returned by get_stats.
type ChannelStats struct {
	BytesSent       int64
	BytesReceived   int64
	MessagesSent    int64
	MessagesReceived int64
	Connected       bool
}

// Error taxonomy (spec §4.2).
var (
	ErrChannelClosed        = api.NewError(api.KindPermanent, "CHANNEL_CLOSED", "channel is closed")
	ErrTimeout              = api.NewError(api.KindTransient, "TIMEOUT", "request_response timed out")
	ErrUnsupportedTransport = api.NewError(api.KindPermanent, "UNSUPPORTED_TRANSPORT", "no transport available for runtime kind")
	ErrChannelCreationFailed = api.NewError(api.KindInternal, "CHANNEL_CREATION_FAILED", "failed to create channel")
	ErrSerialization        = api.NewError(api.KindPermanent, "SERIALIZATION_ERROR", "failed to marshal or unmarshal message payload")
)

// CommunicationChannel is the transport-agnostic contract every variant
// (unix, tcp, grpc, in-memory) implements.
type CommunicationChannel interface {
	// InstanceID returns the RuntimeInstanceId this channel was opened for.
	InstanceID() api.RuntimeInstanceId

	// Send transmits message, framing it per the transport's wire format.
	Send(message Message) error

	// Receive blocks until a message arrives or the channel closes.
	Receive() (Message, error)

	// RequestResponse sends message and waits for the correlated response,
	// or TimeoutError after timeout elapses.
	RequestResponse(message Message, timeout time.Duration) (Message, error)

	IsConnected() bool
	Close() error
	GetStats() ChannelStats
}

// pendingTable correlates outstanding request_response calls by request id,
// at most one outstanding entry per (channel, request_id), auto-cleared on
// response delivery or timeout.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan Message)}
}

// register installs a waiter for requestID. Returns an error if one is
// already outstanding for the same id.
func (p *pendingTable) register(requestID string) (chan Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[requestID]; exists {
		return nil, api.NewError(api.KindPermanent, "EINVAL", "request_id already has an outstanding request_response")
	}
	ch := make(chan Message, 1)
	p.waiters[requestID] = ch
	return ch, nil
}

// deliver routes an inbound response to its waiter, if any. Returns false
// if no waiter is registered (the caller should fall through to the
// regular inbound queue, e.g. for unsolicited Signals).
func (p *pendingTable) deliver(msg Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[msg.RequestID]
	if ok {
		delete(p.waiters, msg.RequestID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// cancel removes requestID's waiter without delivering, used on timeout.
func (p *pendingTable) cancel(requestID string) {
	p.mu.Lock()
	delete(p.waiters, requestID)
	p.mu.Unlock()
}

// requestIDSeq produces a monotonic, per-(task,instance) request id.
type requestIDSeq struct {
	mu     sync.Mutex
	taskID string
	n      uint64
}

func newRequestIDSeq(taskID string) *requestIDSeq {
	return &requestIDSeq{taskID: taskID}
}

func (s *requestIDSeq) next() string {
	s.mu.Lock()
	s.n++
	id := s.n
	s.mu.Unlock()
	return fmt.Sprintf("%s-%d", s.taskID, id)
}

// marshalFrame length-prefixes a Message's JSON encoding for the stream
// transports (unix/tcp/grpc use the same wire shape).
func marshalFrame(msg Message) ([]byte, error) {
	wire := wireMessage{Kind: int(msg.Kind), RequestID: msg.RequestID, Payload: msg.Payload}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, ErrSerialization
	}
	frame := make([]byte, 4+len(body))
	putUint32LE(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

type wireMessage struct {
	Kind      int    `json:"kind"`
	RequestID string `json:"request_id"`
	Payload   []byte `json:"payload"`
}

func unmarshalFrame(body []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return Message{}, ErrSerialization
	}
	return Message{Kind: MessageKind(wire.Kind), RequestID: wire.RequestID, Payload: wire.Payload}, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
