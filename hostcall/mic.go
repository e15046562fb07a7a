// File: hostcall/mic.go
// Author: momentics <momentics@gmail.com>
//
// Microphone hostcalls (spec §4.5.4): fixed-size frame reads backed by a
// capture-callback → ring buffer → framer pipeline. Drop-oldest overflow
// with a dropped_frames counter, same shape as rtasr's recv queue.
package hostcall

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

// MicCaptureSource produces raw, unframed audio bytes for a MicStream's
// framer to chunk into fixed-size frames. Implemented per source kind
// (device/file/stub); stub is built in here, and device or file sources
// come only from a MicSourceFactory set with Host.SetMicSourceFactory
// (cmd/spearletd sets none).
type MicCaptureSource interface {
	Samples(ctx context.Context, out chan<- []byte) error
}

// MicConfig is the mic_ctl(SET_PARAM) JSON shape (spec §4.5.4).
type MicConfig struct {
	Source       string `json:"source"`
	Device       struct {
		Name string `json:"name,omitempty"`
	} `json:"device,omitempty"`
	SampleRateHz  int    `json:"sample_rate_hz"`
	Channels      int    `json:"channels"`
	Format        string `json:"format"`
	FrameMs       int    `json:"frame_ms"`
	MaxQueueBytes int    `json:"max_queue_bytes"`
	DropPolicy    string `json:"drop_policy"`
	Fallback      struct {
		ToStub bool `json:"to_stub,omitempty"`
	} `json:"fallback,omitempty"`
}

func bytesPerSample(format string) int {
	switch format {
	case "pcm16":
		return 2
	case "pcm8":
		return 1
	case "pcm32", "f32":
		return 4
	default:
		return 2
	}
}

func (c MicConfig) frameBytes() int {
	channels := c.Channels
	if channels == 0 {
		channels = 1
	}
	samplesPerFrame := c.SampleRateHz * c.FrameMs / 1000
	return samplesPerFrame * channels * bytesPerSample(c.Format)
}

// MicStream is the Pollable backing a mic_create fd.
type MicStream struct {
	mu     sync.Mutex
	closed bool

	cfg           MicConfig
	configured    bool
	frameSize     int
	queue         [][]byte
	maxQueueBytes int
	queueBytes    int
	droppedFrames int64

	notify func()
	cancel context.CancelFunc
}

func newMicStream() *MicStream { return &MicStream{} }

// PollMask: IN whenever a frame is queued, HUP once closed.
func (s *MicStream) PollMask() api.PollMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m api.PollMask
	if len(s.queue) > 0 {
		m |= api.PollIn
	}
	if s.closed {
		m |= api.PollHup
	}
	return m
}

// Close stops the capture pipeline; idempotent.
func (s *MicStream) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Metrics implements MetricsReporter for spear_fd_ctl(GET_METRICS).
func (s *MicStream) Metrics() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return struct {
		QueuedFrames  int   `json:"queued_frames"`
		DroppedFrames int64 `json:"dropped_frames"`
		FrameBytes    int   `json:"frame_bytes"`
	}{len(s.queue), s.droppedFrames, s.frameSize}
}

func (h *Host) micStream(fd int32) (*MicStream, int32) {
	entry, err := h.table.Get(fd)
	if err != nil {
		return nil, api.EBADF
	}
	s, ok := entry.Inner().(*MicStream)
	if !ok {
		return nil, api.EINVAL
	}
	return s, 0
}

// MicCreate allocates a new, unconfigured mic fd; mic_ctl(SET_PARAM) must
// run before mic_read produces frames.
func (h *Host) MicCreate() (int32, int32) {
	stream := newMicStream()
	fd, err := h.table.Alloc(api.FdMic, 0, stream)
	if err != nil {
		return 0, errnoOf(err)
	}
	stream.notify = h.table.NotifierFunc(fd)
	return fd, 0
}

// MicCtl applies SET_PARAM: resolves the configured source and starts
// the capture-callback → framer pipeline.
func (h *Host) MicCtl(ctx context.Context, fd int32, arg []byte) int32 {
	s, rc := h.micStream(fd)
	if rc != 0 {
		return rc
	}

	var cfg MicConfig
	if err := json.Unmarshal(arg, &cfg); err != nil {
		return api.EINVAL
	}
	frameSize := cfg.frameBytes()
	if frameSize <= 0 {
		return api.EINVAL
	}

	source, err := h.resolveMicSource(cfg)
	if err != nil {
		if cfg.Fallback.ToStub {
			source = newStubMicSource()
		} else {
			return api.EIO
		}
	}

	maxQueueBytes := cfg.MaxQueueBytes
	if maxQueueBytes <= 0 {
		maxQueueBytes = frameSize * 32
	}

	captureCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cfg = cfg
	s.configured = true
	s.frameSize = frameSize
	s.maxQueueBytes = maxQueueBytes
	s.cancel = cancel
	s.mu.Unlock()

	raw := make(chan []byte, 8)
	go func() {
		_ = source.Samples(captureCtx, raw)
		close(raw)
	}()
	go s.frame(raw)
	return 0
}

func (h *Host) resolveMicSource(cfg MicConfig) (MicCaptureSource, error) {
	if h.micFactory != nil {
		return h.micFactory(cfg)
	}
	if cfg.Source == "" || cfg.Source == "stub" {
		return newStubMicSource(), nil
	}
	return nil, api.NewError(api.KindPermanent, "EINVAL", "no mic source factory configured for "+cfg.Source)
}

// frame accumulates raw capture bytes in a ring buffer and slices it into
// frameSize chunks, dropping the oldest queued frame on overflow.
func (s *MicStream) frame(raw <-chan []byte) {
	var ring []byte
	for chunk := range raw {
		ring = append(ring, chunk...)

		s.mu.Lock()
		frameSize := s.frameSize
		for len(ring) >= frameSize {
			frame := append([]byte{}, ring[:frameSize]...)
			ring = ring[frameSize:]

			if s.queueBytes+frameSize > s.maxQueueBytes && len(s.queue) > 0 {
				s.queueBytes -= len(s.queue[0])
				s.queue = s.queue[1:]
				s.droppedFrames++
			}
			s.queue = append(s.queue, frame)
			s.queueBytes += frameSize
		}
		notify := s.notify
		s.mu.Unlock()
		if notify != nil {
			notify()
		}
	}
}

// MicRead returns exactly one frame, sized per the active MicConfig, or
// -EAGAIN if the queue is empty.
func (h *Host) MicRead(fd int32, out []byte) (n int, required int, rc int32) {
	s, errRc := h.micStream(fd)
	if errRc != 0 {
		return 0, 0, errRc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return 0, 0, api.EINVAL
	}
	if len(s.queue) == 0 {
		return 0, 0, api.EAGAIN
	}
	frame := s.queue[0]
	if len(out) < len(frame) {
		return 0, len(frame), api.ENOSPC
	}
	s.queue = s.queue[1:]
	s.queueBytes -= len(frame)
	n = copy(out, frame)
	return n, n, 0
}

// MicClose releases the mic fd; idempotent.
func (h *Host) MicClose(fd int32) int32 {
	if err := h.table.Close(fd); err != nil {
		return errnoOf(err)
	}
	return 0
}

// stubMicSource generates silent PCM16 frames at a steady 20ms cadence,
// used whenever no device/file source is configured or wired in.
type stubMicSource struct{}

func newStubMicSource() *stubMicSource { return &stubMicSource{} }

func (stubMicSource) Samples(ctx context.Context, out chan<- []byte) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]byte, 640) // ~20ms @ 16kHz mono pcm16, trimmed by the framer
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			chunk := make([]byte, len(buf))
			copy(chunk, buf)
			select {
			case out <- chunk:
			default:
			}
		}
	}
}
