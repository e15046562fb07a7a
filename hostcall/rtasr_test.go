// File: hostcall/rtasr_test.go
// Author: momentics <momentics@gmail.com>
package hostcall

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/fdtable"
)

// echoTransport immediately emits one event per audio chunk it receives,
// wrapping the chunk length as a JSON event body.
type echoTransport struct {
	connected chan struct{}
}

func (tr *echoTransport) Connect(ctx context.Context, sendAudio <-chan []byte, recvEvents chan<- []byte) error {
	if tr.connected != nil {
		close(tr.connected)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-sendAudio:
			if !ok {
				return nil
			}
			ev, _ := json.Marshal(map[string]any{"bytes": len(chunk)})
			recvEvents <- ev
		}
	}
}

func newHostWithEcho() (*Host, *echoTransport) {
	tr := &echoTransport{connected: make(chan struct{})}
	h := NewHost(fdtable.New(), nil)
	h.SetRtAsrTransportFactory(func(params map[string]any) (RtAsrTransport, error) { return tr, nil })
	return h, tr
}

// TestRtAsrWriteAllOrNothing exercises the overflow-rejection branch
// directly against a connected-but-not-pumped stream (connected=true set
// by hand, no Connect goroutines running) so the assertion isn't racing
// against the background drain pump that Connect would start.
func TestRtAsrWriteAllOrNothing(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	fd, rc := h.RtAsrCreate()
	if rc != 0 {
		t.Fatalf("RtAsrCreate: rc=%d", rc)
	}
	s, _ := h.rtAsrStream(fd)
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	small := make([]byte, 16)
	if _, rc := h.RtAsrWrite(fd, small); rc != 0 {
		t.Fatalf("first write should succeed, rc=%d", rc)
	}

	huge := make([]byte, defaultMaxSendQueueBytes)
	if _, rc := h.RtAsrWrite(fd, huge); rc != api.EAGAIN {
		t.Fatalf("expected -EAGAIN on oversized write, got rc=%d", rc)
	}

	// Queue still holds exactly the first accepted write.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendQueueBytes != len(small) {
		t.Fatalf("expected sendQueueBytes=%d, got %d", len(small), s.sendQueueBytes)
	}
}

func TestRtAsrWriteBeforeConnectIsEnotconn(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	fd, _ := h.RtAsrCreate()
	if _, rc := h.RtAsrWrite(fd, []byte("abc")); rc != api.ENOTCONN {
		t.Fatalf("expected -ENOTCONN before connect, got rc=%d", rc)
	}
}

func TestRtAsrReadDropOldestOnOverflow(t *testing.T) {
	h, tr := newHostWithEcho()
	fd, _ := h.RtAsrCreate()
	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlConnect, nil); rc != 0 {
		t.Fatalf("Connect: rc=%d", rc)
	}
	<-tr.connected

	total := defaultMaxRecvQueueMsgs + 5
	for i := 0; i < total; i++ {
		if _, rc := h.RtAsrWrite(fd, []byte{byte(i)}); rc != 0 {
			t.Fatalf("write %d: rc=%d", i, rc)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s, _ := h.rtAsrStream(fd)
		s.mu.Lock()
		drained := s.droppedEvents >= 5 && len(s.recvQueue) == defaultMaxRecvQueueMsgs
		s.mu.Unlock()
		if drained {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	s, _ := h.rtAsrStream(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.droppedEvents < 5 {
		t.Fatalf("expected dropped_events>=5, got %d", s.droppedEvents)
	}
	if len(s.recvQueue) != defaultMaxRecvQueueMsgs {
		t.Fatalf("expected recv queue capped at %d, got %d", defaultMaxRecvQueueMsgs, len(s.recvQueue))
	}
}

func TestRtAsrReadEnospcContract(t *testing.T) {
	h, tr := newHostWithEcho()
	fd, _ := h.RtAsrCreate()
	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlConnect, nil); rc != 0 {
		t.Fatalf("Connect: rc=%d", rc)
	}
	<-tr.connected
	if _, rc := h.RtAsrWrite(fd, make([]byte, 64)); rc != 0 {
		t.Fatalf("write: rc=%d", rc)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s, _ := h.rtAsrStream(fd)
		s.mu.Lock()
		ready := len(s.recvQueue) > 0
		s.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	tiny := make([]byte, 1)
	n, required, rc := h.RtAsrRead(fd, tiny)
	if rc != api.ENOSPC || n != 0 || required <= 1 {
		t.Fatalf("expected -ENOSPC, got n=%d required=%d rc=%d", n, required, rc)
	}
	big := make([]byte, required)
	if _, _, rc := h.RtAsrRead(fd, big); rc != 0 {
		t.Fatalf("expected success on resized read, rc=%d", rc)
	}
}

func TestRtAsrReadEmptyIsEagain(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	fd, _ := h.RtAsrCreate()
	out := make([]byte, 16)
	if _, _, rc := h.RtAsrRead(fd, out); rc != api.EAGAIN {
		t.Fatalf("expected -EAGAIN on empty recv queue, got rc=%d", rc)
	}
}

func TestRtAsrSegmentationRoundTrip(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	fd, _ := h.RtAsrCreate()

	custom := []byte(`{"strategy":"manual","silence_ms":500}`)
	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlSetSegmentation, custom); rc != 0 {
		t.Fatalf("SetSegmentation: rc=%d", rc)
	}
	out, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlGetSegmentation, nil)
	if rc != 0 {
		t.Fatalf("GetSegmentation: rc=%d", rc)
	}
	if string(out) != string(custom) {
		t.Fatalf("expected segmentation round-trip, got %s", out)
	}
}

func TestRtAsrShutdownWriteThenEpipe(t *testing.T) {
	h, tr := newHostWithEcho()
	fd, _ := h.RtAsrCreate()
	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlConnect, nil); rc != 0 {
		t.Fatalf("Connect: rc=%d", rc)
	}
	<-tr.connected
	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlShutdownWrite, nil); rc != 0 {
		t.Fatalf("ShutdownWrite: rc=%d", rc)
	}
	if _, rc := h.RtAsrWrite(fd, []byte("late")); rc != api.EPIPE {
		t.Fatalf("expected -EPIPE after shutdown_write, got rc=%d", rc)
	}
}

func TestRtAsrClearResetsQueues(t *testing.T) {
	h, tr := newHostWithEcho()
	fd, _ := h.RtAsrCreate()
	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlConnect, nil); rc != 0 {
		t.Fatalf("Connect: rc=%d", rc)
	}
	<-tr.connected
	_, _ = h.RtAsrWrite(fd, []byte("abc"))

	if _, rc := h.RtAsrCtl(context.Background(), fd, RtAsrCtlClear, nil); rc != 0 {
		t.Fatalf("Clear: rc=%d", rc)
	}
	s, _ := h.rtAsrStream(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sendQueue) != 0 || s.sendQueueBytes != 0 || len(s.recvQueue) != 0 {
		t.Fatalf("expected empty queues after clear, got send=%d bytes=%d recv=%d", len(s.sendQueue), s.sendQueueBytes, len(s.recvQueue))
	}
}
