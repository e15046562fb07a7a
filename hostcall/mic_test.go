// File: hostcall/mic_test.go
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

// chunkSource emits a fixed sequence of raw byte chunks, then blocks until
// ctx is cancelled, so tests can control exactly how much raw audio the
// framer sees.
type chunkSource struct {
	chunks [][]byte
}

func (c *chunkSource) Samples(ctx context.Context, out chan<- []byte) error {
	for _, chunk := range c.chunks {
		select {
		case out <- chunk:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func micConfigJSON(t *testing.T, cfg MicConfig) []byte {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal MicConfig: %v", err)
	}
	return b
}

func TestMicReadBeforeConfiguredIsEinval(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	fd, rc := h.MicCreate()
	if rc != 0 {
		t.Fatalf("MicCreate: rc=%d", rc)
	}
	out := make([]byte, 64)
	if _, _, rc := h.MicRead(fd, out); rc != api.EINVAL {
		t.Fatalf("expected -EINVAL before configure, got rc=%d", rc)
	}
}

func TestMicFixedFrameSizeReadAndEagain(t *testing.T) {
	// 8000 Hz, 1 channel, pcm16 (2 bytes/sample), 10ms frames => 160
	// bytes/frame. Source emits exactly 3 frames worth in one chunk.
	frameBytes := 160
	src := &chunkSource{chunks: [][]byte{make([]byte, frameBytes*3)}}

	h := NewHost(fdtable.New(), nil)
	h.SetMicSourceFactory(func(cfg MicConfig) (MicCaptureSource, error) { return src, nil })

	fd, rc := h.MicCreate()
	if rc != 0 {
		t.Fatalf("MicCreate: rc=%d", rc)
	}
	cfg := MicConfig{Source: "test", SampleRateHz: 8000, Channels: 1, Format: "pcm16", FrameMs: 10}
	if rc := h.MicCtl(context.Background(), fd, micConfigJSON(t, cfg)); rc != 0 {
		t.Fatalf("MicCtl: rc=%d", rc)
	}

	deadline := time.Now().Add(time.Second)
	for {
		n, required, rc := h.MicRead(fd, make([]byte, frameBytes))
		if rc == 0 {
			if n != frameBytes || required != frameBytes {
				t.Fatalf("expected one full frame of %d bytes, got n=%d required=%d", frameBytes, n, required)
			}
			break
		}
		if rc != api.EAGAIN {
			t.Fatalf("unexpected rc=%d", rc)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for first frame")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Two more already-framed chunks should be available without delay.
	for i := 0; i < 2; i++ {
		n, _, rc := h.MicRead(fd, make([]byte, frameBytes))
		if rc != 0 || n != frameBytes {
			t.Fatalf("expected frame %d ready, got n=%d rc=%d", i, n, rc)
		}
	}

	// Queue now drained; further reads are -EAGAIN until more audio
	// arrives (source has gone quiet after its one chunk).
	if _, _, rc := h.MicRead(fd, make([]byte, frameBytes)); rc != api.EAGAIN {
		t.Fatalf("expected -EAGAIN once drained, got rc=%d", rc)
	}
}

func TestMicReadEnospcContract(t *testing.T) {
	frameBytes := 160
	src := &chunkSource{chunks: [][]byte{make([]byte, frameBytes)}}
	h := NewHost(fdtable.New(), nil)
	h.SetMicSourceFactory(func(cfg MicConfig) (MicCaptureSource, error) { return src, nil })

	fd, _ := h.MicCreate()
	cfg := MicConfig{Source: "test", SampleRateHz: 8000, Channels: 1, Format: "pcm16", FrameMs: 10}
	if rc := h.MicCtl(context.Background(), fd, micConfigJSON(t, cfg)); rc != 0 {
		t.Fatalf("MicCtl: rc=%d", rc)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s, _ := h.micStream(fd)
		s.mu.Lock()
		ready := len(s.queue) > 0
		s.mu.Unlock()
		if ready {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	tiny := make([]byte, 4)
	n, required, rc := h.MicRead(fd, tiny)
	if rc != api.ENOSPC || n != 0 || required != frameBytes {
		t.Fatalf("expected -ENOSPC required=%d, got n=%d required=%d rc=%d", frameBytes, n, required, rc)
	}
}

func TestMicDropOldestFrameOnOverflow(t *testing.T) {
	frameBytes := 160
	maxQueueBytes := frameBytes * 2 // room for only 2 queued frames
	chunks := make([][]byte, 5)
	for i := range chunks {
		chunks[i] = make([]byte, frameBytes)
		chunks[i][0] = byte(i + 1) // tag each frame so drop-oldest is observable
	}
	src := &chunkSource{chunks: chunks}

	h := NewHost(fdtable.New(), nil)
	h.SetMicSourceFactory(func(cfg MicConfig) (MicCaptureSource, error) { return src, nil })

	fd, _ := h.MicCreate()
	cfg := MicConfig{Source: "test", SampleRateHz: 8000, Channels: 1, Format: "pcm16", FrameMs: 10, MaxQueueBytes: maxQueueBytes}
	if rc := h.MicCtl(context.Background(), fd, micConfigJSON(t, cfg)); rc != 0 {
		t.Fatalf("MicCtl: rc=%d", rc)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s, _ := h.micStream(fd)
		s.mu.Lock()
		done := s.droppedFrames >= 3
		s.mu.Unlock()
		if done {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	s, _ := h.micStream(fd)
	s.mu.Lock()
	dropped := s.droppedFrames
	queued := len(s.queue)
	s.mu.Unlock()
	if dropped < 3 {
		t.Fatalf("expected dropped_frames>=3, got %d", dropped)
	}
	if queued > 2 {
		t.Fatalf("expected queue bounded at 2 frames, got %d", queued)
	}
}

func TestMicCtlFallbackToStubOnUnresolvedSource(t *testing.T) {
	h := NewHost(fdtable.New(), nil) // no factory set
	fd, _ := h.MicCreate()
	cfg := MicConfig{Source: "real-hardware-device", SampleRateHz: 16000, Channels: 1, Format: "pcm16", FrameMs: 20}
	cfg.Fallback.ToStub = true
	if rc := h.MicCtl(context.Background(), fd, micConfigJSON(t, cfg)); rc != 0 {
		t.Fatalf("expected MicCtl to fall back to stub, got rc=%d", rc)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, _, rc := h.MicRead(fd, make([]byte, cfg.frameBytes())); rc == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected stub source to eventually produce a frame")
}

func TestMicCtlNoFallbackErrors(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	fd, _ := h.MicCreate()
	cfg := MicConfig{Source: "real-hardware-device", SampleRateHz: 16000, Channels: 1, Format: "pcm16", FrameMs: 20}
	if rc := h.MicCtl(context.Background(), fd, micConfigJSON(t, cfg)); rc != api.EIO {
		t.Fatalf("expected -EIO with no factory and no fallback, got rc=%d", rc)
	}
}
