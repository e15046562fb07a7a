// File: hostcall/host.go
// Author: momentics <momentics@gmail.com>
//
// Package hostcall implements C5: the ABI-stable, -errno-returning guest
// hostcall surface (spear_epoll_*, spear_fd_ctl, cchat_*, rtasr_*, mic_*)
// layered over the fdtable (C1). Grounded on fdtable for fd lifecycle and
// on the voice-pipeline shape found in the retrieval pack's
// nupi-ai-plugin-vad-local-silero (per-stream engine + boundary detector)
// and fankserver-discord-voice-mcp (ring-buffered async processor) for the
// rtasr/mic framer-and-queue idiom, re-expressed here as host-side Go
// rather than copied.
//
// Each subsystem exposes two layers: a plain-Go, directly testable API
// (CchatCreate, RtAsrWrite, MicRead, ...) operating on byte slices and Go
// values, and a thin ABI shim (bind.go) that marshals guest linear-memory
// pointers into/out of that Go API when running under wazero. This keeps
// the ABI glue — the part that can never be unit tested without a real
// wasm guest — as small as possible.
package hostcall

import (
	"context"
	"sync"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/fdtable"
)

// ChatInvoker routes a session snapshot to the AI engine (C6): normalize,
// route, invoke. Implemented by aiengine.Engine and supplied at wiring
// time so hostcall never imports aiengine directly.
type ChatInvoker interface {
	InvokeChat(ctx context.Context, snapshot api.ChatSessionSnapshot) (api.CanonicalResponseEnvelope, error)
}

// MicSourceFactory resolves a MicConfig into a concrete capture source.
// The wiring layer supplies device/file implementations; a nil factory
// falls back to the built-in stub generator for every source kind.
type MicSourceFactory func(cfg MicConfig) (MicCaptureSource, error)

// RtAsrTransportFactory resolves an rtasr_ctl(CONNECT) call into a live
// transport. A nil factory falls back to the built-in stub transport.
type RtAsrTransportFactory func(params map[string]any) (RtAsrTransport, error)

// Host bundles an fd table with every hostcall subsystem's wiring.
// cmd/spearletd builds a single Host, and every wasm instance created by
// its wasm adapter shares that Host and fd table.
type Host struct {
	table   *fdtable.Table
	invoker ChatInvoker

	micFactory   MicSourceFactory
	rtasrFactory RtAsrTransportFactory

	mu sync.Mutex
}

// NewHost constructs a Host over table, routing cchat_send through
// invoker.
func NewHost(table *fdtable.Table, invoker ChatInvoker) *Host {
	return &Host{table: table, invoker: invoker}
}

// SetMicSourceFactory overrides the default stub-only microphone source
// resolution; device/file sources come only from such a factory, and
// cmd/spearletd does not set one.
func (h *Host) SetMicSourceFactory(f MicSourceFactory) { h.micFactory = f }

// SetRtAsrTransportFactory overrides the default stub realtime-ASR
// transport with a real upstream connector.
func (h *Host) SetRtAsrTransportFactory(f RtAsrTransportFactory) { h.rtasrFactory = f }
