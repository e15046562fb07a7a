// File: channel/ws.go
// Author: momentics <momentics@gmail.com>
//
// WS-framed debug tap for the wasm/in-mem bridge (spec §4.2 "wasm
// runtime (same-process bidirectional queues)"): NewInMemoryPair's two
// ends never touch the network, which makes their traffic invisible to
// an operator. DebugTap wraps either end so every Message passed through
// its Send or Receive is also broadcast, JSON-encoded, to any number of
// attached websocket observers — read-only, never part of the
// request/response path. RequestResponse goes straight to the wrapped
// channel and is not mirrored.
// Grounded on gorilla/websocket (the pack's floegence-flowersec
// manifest, also used by aiengine's realtime-voice adapter) for the
// wire framing, and on inmem.go's single-writer/broadcast shape for the
// decorator itself.
package channel

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// debugFrame is the wire shape pushed to every attached observer.
type debugFrame struct {
	Direction string    `json:"direction"` // "send" or "receive"
	Kind      string    `json:"kind"`
	RequestID string    `json:"request_id"`
	Bytes     int       `json:"bytes"`
	At        time.Time `json:"at"`
}

// DebugTap wraps a CommunicationChannel, mirroring every Send/Receive to
// its attached websocket observers without altering the channel's own
// behavior or error semantics.
type DebugTap struct {
	CommunicationChannel

	upgrader websocket.Upgrader

	mu        sync.Mutex
	observers map[*websocket.Conn]struct{}
}

// NewDebugTap decorates inner with observer broadcasting. The returned
// value satisfies CommunicationChannel and can be used as a drop-in
// replacement for inner anywhere one is expected.
func NewDebugTap(inner CommunicationChannel) *DebugTap {
	return &DebugTap{
		CommunicationChannel: inner,
		upgrader:             websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		observers:            make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// resulting connection as an observer until it disconnects. Intended to
// be mounted at a debug-only endpoint (e.g. "/debug/taps/{instance_id}"),
// never on the data path itself.
func (t *DebugTap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.mu.Lock()
	t.observers[conn] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.observers, conn)
		t.mu.Unlock()
		_ = conn.Close()
	}()

	// Observers are write-only consumers; drain and discard anything
	// they send so the read pump doesn't stall the connection.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (t *DebugTap) broadcast(frame debugFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.observers) == 0 {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for conn := range t.observers {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = conn.Close()
			delete(t.observers, conn)
		}
	}
}

// Send mirrors message to every attached observer, then delegates.
func (t *DebugTap) Send(message Message) error {
	err := t.CommunicationChannel.Send(message)
	if err == nil {
		t.broadcast(debugFrame{Direction: "send", Kind: message.Kind.String(), RequestID: message.RequestID, Bytes: len(message.Payload), At: time.Now()})
	}
	return err
}

// Receive delegates, then mirrors whatever arrived to every observer.
func (t *DebugTap) Receive() (Message, error) {
	msg, err := t.CommunicationChannel.Receive()
	if err == nil {
		t.broadcast(debugFrame{Direction: "receive", Kind: msg.Kind.String(), RequestID: msg.RequestID, Bytes: len(msg.Payload), At: time.Now()})
	}
	return msg, err
}

// ObserverCount reports how many websocket observers are attached,
// mainly for tests and metrics.
func (t *DebugTap) ObserverCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}
