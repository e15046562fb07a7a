// File: hostcall/rtasr.go
// Author: momentics <momentics@gmail.com>
//
// Realtime ASR hostcalls (spec §4.5.3): all-or-nothing outbound writes,
// -EAGAIN when the send queue would overflow, drop-oldest with a
// dropped_events counter on recv-queue overflow, and segmentation control.
// The send-side drain loop is grounded on the ring-buffered async
// processor shape retrieved for this spec (fankserver-discord-voice-mcp),
// re-expressed with a sync.Cond rather than copied, to match fdtable's
// own condvar idiom.
package hostcall

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lfedgeai/spearlet-core/api"
)

// RtAsrTransport is the realtime-ASR backend a stream connects to via
// rtasr_ctl(CONNECT). Connect runs until ctx is cancelled or the
// transport fails; it drains outbound audio from sendAudio and pushes
// decoded JSON events onto recvEvents.
type RtAsrTransport interface {
	Connect(ctx context.Context, sendAudio <-chan []byte, recvEvents chan<- []byte) error
}

// RtAsrEventSender is an optional capability a transport may implement to
// accept rtasr_ctl(SEND_EVENT) control messages (e.g. "end_of_utterance")
// distinct from raw audio.
type RtAsrEventSender interface {
	SendEvent(ctx context.Context, event []byte) error
}

// RtAsrCtlCmd enumerates rtasr_ctl's commands, in spec order.
type RtAsrCtlCmd int32

const (
	RtAsrCtlSetParam RtAsrCtlCmd = iota
	RtAsrCtlConnect
	RtAsrCtlGetStatus
	RtAsrCtlSendEvent
	RtAsrCtlFlush
	RtAsrCtlClear
	RtAsrCtlSetSegmentation
	RtAsrCtlGetSegmentation
	RtAsrCtlGetMetrics
	RtAsrCtlShutdownWrite
)

const defaultMaxSendQueueBytes = 1 << 20 // 1 MiB
const defaultMaxRecvQueueMsgs = 64

// RtAsrStream is the Pollable backing an rtasr_create fd.
type RtAsrStream struct {
	mu   sync.Mutex
	cond *sync.Cond

	closed        bool
	connected     bool
	shutdownWrite bool
	lastError     string

	sendQueue         [][]byte
	sendQueueBytes    int
	maxSendQueueBytes int

	recvQueue        [][]byte
	maxRecvQueueMsgs int
	droppedEvents    int64

	segmentation json.RawMessage
	params       map[string]any

	transport RtAsrTransport
	notify    func()
}

func newRtAsrStream() *RtAsrStream {
	s := &RtAsrStream{
		maxSendQueueBytes: defaultMaxSendQueueBytes,
		maxRecvQueueMsgs:  defaultMaxRecvQueueMsgs,
		params:            make(map[string]any),
		segmentation:      json.RawMessage(`{"strategy":"server_vad"}`),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// PollMask: IN when recv_queue non-empty, OUT when send_queue has room,
// ERR on a transport-reported failure, HUP once closed.
func (s *RtAsrStream) PollMask() api.PollMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m api.PollMask
	if len(s.recvQueue) > 0 {
		m |= api.PollIn
	}
	if s.sendQueueBytes < s.maxSendQueueBytes {
		m |= api.PollOut
	}
	if s.lastError != "" {
		m |= api.PollErr
	}
	if s.closed {
		m |= api.PollHup
	}
	return m
}

// Close idempotently tears down the stream and wakes any blocked drainer.
func (s *RtAsrStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Metrics implements MetricsReporter for spear_fd_ctl(GET_METRICS).
func (s *RtAsrStream) Metrics() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return struct {
		SendQueueBytes int   `json:"send_queue_bytes"`
		RecvQueueMsgs  int   `json:"recv_queue_msgs"`
		DroppedEvents  int64 `json:"dropped_events"`
		Connected      bool  `json:"connected"`
	}{s.sendQueueBytes, len(s.recvQueue), s.droppedEvents, s.connected}
}

func (h *Host) rtAsrStream(fd int32) (*RtAsrStream, int32) {
	entry, err := h.table.Get(fd)
	if err != nil {
		return nil, api.EBADF
	}
	s, ok := entry.Inner().(*RtAsrStream)
	if !ok {
		return nil, api.EINVAL
	}
	return s, 0
}

// RtAsrCreate allocates a new rtasr stream fd.
func (h *Host) RtAsrCreate() (int32, int32) {
	stream := newRtAsrStream()
	fd, err := h.table.Alloc(api.FdRtAsr, 0, stream)
	if err != nil {
		return 0, errnoOf(err)
	}
	stream.notify = h.table.NotifierFunc(fd)
	return fd, 0
}

// RtAsrWrite appends buf to the send queue, all-or-nothing: either every
// byte is accepted or -EAGAIN is returned, iff accepting it would push
// send_queue_bytes over max_send_queue_bytes.
func (h *Host) RtAsrWrite(fd int32, buf []byte) (int, int32) {
	s, rc := h.rtAsrStream(fd)
	if rc != 0 {
		return 0, rc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownWrite {
		return 0, api.EPIPE
	}
	if !s.connected {
		return 0, api.ENOTCONN
	}
	if s.sendQueueBytes+len(buf) > s.maxSendQueueBytes {
		return 0, api.EAGAIN
	}
	chunk := append([]byte{}, buf...)
	s.sendQueue = append(s.sendQueue, chunk)
	s.sendQueueBytes += len(chunk)
	s.cond.Broadcast()
	return len(buf), 0
}

// RtAsrRead pops exactly one complete JSON event from the recv queue, or
// -EAGAIN if empty.
func (h *Host) RtAsrRead(fd int32, out []byte) (n int, required int, rc int32) {
	s, errRc := h.rtAsrStream(fd)
	if errRc != 0 {
		return 0, 0, errRc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recvQueue) == 0 {
		return 0, 0, api.EAGAIN
	}
	ev := s.recvQueue[0]
	if len(out) < len(ev) {
		return 0, len(ev), api.ENOSPC
	}
	s.recvQueue = s.recvQueue[1:]
	n = copy(out, ev)
	return n, n, 0
}

// RtAsrClose releases the stream fd; idempotent.
func (h *Host) RtAsrClose(fd int32) int32 {
	if err := h.table.Close(fd); err != nil {
		return errnoOf(err)
	}
	return 0
}

// RtAsrCtl dispatches one of the ten rtasr_ctl commands.
func (h *Host) RtAsrCtl(ctx context.Context, fd int32, cmd RtAsrCtlCmd, arg []byte) ([]byte, int32) {
	s, rc := h.rtAsrStream(fd)
	if rc != 0 {
		return nil, rc
	}

	switch cmd {
	case RtAsrCtlSetParam:
		var kv struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(arg, &kv); err != nil || kv.Key == "" {
			return nil, api.EINVAL
		}
		s.mu.Lock()
		s.params[kv.Key] = kv.Value
		s.mu.Unlock()
		return nil, 0

	case RtAsrCtlConnect:
		return nil, h.rtAsrConnect(ctx, s)

	case RtAsrCtlGetStatus:
		s.mu.Lock()
		out, _ := json.Marshal(struct {
			Connected      bool   `json:"connected"`
			LastError      string `json:"last_error"`
			SendQueueBytes int    `json:"send_queue_bytes"`
			DroppedEvents  int64  `json:"dropped_events"`
			ShutdownWrite  bool   `json:"shutdown_write"`
		}{s.connected, s.lastError, s.sendQueueBytes, s.droppedEvents, s.shutdownWrite})
		s.mu.Unlock()
		return out, 0

	case RtAsrCtlSendEvent:
		s.mu.Lock()
		transport := s.transport
		s.mu.Unlock()
		sender, ok := transport.(RtAsrEventSender)
		if !ok {
			return nil, api.EINVAL
		}
		if err := sender.SendEvent(ctx, arg); err != nil {
			return nil, api.EIO
		}
		return nil, 0

	case RtAsrCtlFlush:
		return nil, 0

	case RtAsrCtlClear:
		s.mu.Lock()
		s.sendQueue = nil
		s.sendQueueBytes = 0
		s.recvQueue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		return nil, 0

	case RtAsrCtlSetSegmentation:
		if !json.Valid(arg) {
			return nil, api.EINVAL
		}
		s.mu.Lock()
		s.segmentation = append(json.RawMessage{}, arg...)
		s.mu.Unlock()
		return nil, 0

	case RtAsrCtlGetSegmentation:
		s.mu.Lock()
		out := append(json.RawMessage{}, s.segmentation...)
		s.mu.Unlock()
		return out, 0

	case RtAsrCtlGetMetrics:
		out, _ := json.Marshal(s.Metrics())
		return out, 0

	case RtAsrCtlShutdownWrite:
		s.mu.Lock()
		s.shutdownWrite = true
		s.cond.Broadcast()
		s.mu.Unlock()
		return nil, 0

	default:
		return nil, api.EINVAL
	}
}

func (h *Host) rtAsrConnect(ctx context.Context, s *RtAsrStream) int32 {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return api.EINVAL
	}
	params := make(map[string]any, len(s.params))
	for k, v := range s.params {
		params[k] = v
	}
	s.mu.Unlock()

	factory := h.rtasrFactory
	var transport RtAsrTransport
	var err error
	if factory != nil {
		transport, err = factory(params)
	} else {
		transport = newStubRtAsrTransport()
	}
	if err != nil {
		return api.EIO
	}

	s.mu.Lock()
	s.connected = true
	s.transport = transport
	s.mu.Unlock()

	sendAudio := make(chan []byte, 1)
	recvEvents := make(chan []byte, 16)
	go s.drainSend(ctx, sendAudio)
	go s.pumpRecv(recvEvents)
	go func() {
		if err := transport.Connect(ctx, sendAudio, recvEvents); err != nil {
			s.mu.Lock()
			s.lastError = err.Error()
			s.mu.Unlock()
			if s.notify != nil {
				s.notify()
			}
		}
		close(recvEvents)
	}()
	return 0
}

// drainSend feeds queued outbound audio chunks to the transport's
// sendAudio channel in FIFO order, blocking on the stream's condvar
// while the queue is empty.
func (s *RtAsrStream) drainSend(ctx context.Context, out chan<- []byte) {
	for {
		s.mu.Lock()
		for len(s.sendQueue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			close(out)
			return
		}
		chunk := s.sendQueue[0]
		s.sendQueue = s.sendQueue[1:]
		s.sendQueueBytes -= len(chunk)
		s.mu.Unlock()

		select {
		case out <- chunk:
		case <-ctx.Done():
			close(out)
			return
		}
		if s.notify != nil {
			s.notify() // send_queue shrank; EPOLLOUT may now hold
		}
	}
}

// pumpRecv appends transport-delivered events to recv_queue, dropping the
// oldest entry and incrementing dropped_events on overflow.
func (s *RtAsrStream) pumpRecv(recvEvents <-chan []byte) {
	for ev := range recvEvents {
		s.mu.Lock()
		if len(s.recvQueue) >= s.maxRecvQueueMsgs {
			s.recvQueue = s.recvQueue[1:]
			s.droppedEvents++
		}
		s.recvQueue = append(s.recvQueue, ev)
		s.mu.Unlock()
		if s.notify != nil {
			s.notify()
		}
	}
}

// stubRtAsrTransport is the default transport used when no
// RtAsrTransportFactory is configured: it discards outbound audio and
// never produces events, serving as a safe no-op for tests and for
// configurations with no ASR backend wired in.
type stubRtAsrTransport struct{}

func newStubRtAsrTransport() *stubRtAsrTransport { return &stubRtAsrTransport{} }

func (stubRtAsrTransport) Connect(ctx context.Context, sendAudio <-chan []byte, recvEvents chan<- []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sendAudio:
			if !ok {
				return nil
			}
		}
	}
}
