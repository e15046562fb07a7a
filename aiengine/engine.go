// File: aiengine/engine.go
// Author: momentics <momentics@gmail.com>
//
// Engine ties normalize_cchat_session, the backend Registry, and the
// Router into the single entry point hostcall's cchat subsystem drives
// (spec §4.6): one InvokeChat call per cchat_send. Engine structurally
// satisfies hostcall.ChatInvoker without importing hostcall, keeping
// aiengine the one-way dependency it was designed as.
package aiengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/lfedgeai/spearlet-core/api"
)

// MetricsRecorder is the narrow metrics seam Engine reports through;
// *control.PromExporter satisfies it structurally, so aiengine never
// imports control.
type MetricsRecorder interface {
	ObserveBackendSelection(backend string)
	ObserveBackendInvokeError(backend, code string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBackendSelection(string)        {}
func (noopMetrics) ObserveBackendInvokeError(string, string) {}

// Engine is the AI engine facade: Normalize -> Router.Select -> adapter.Invoke.
type Engine struct {
	router  *Router
	metrics MetricsRecorder
}

// NewEngine builds an Engine over a pre-built Registry and its routing
// defaults, reporting through a no-op metrics recorder.
func NewEngine(registry *Registry, globalDefaultModel string) *Engine {
	return &Engine{router: NewRouter(registry, globalDefaultModel), metrics: noopMetrics{}}
}

// WithMetrics attaches a MetricsRecorder (e.g. *control.PromExporter)
// for backend-selection and invoke-error observability.
func (e *Engine) WithMetrics(m MetricsRecorder) *Engine {
	if m != nil {
		e.metrics = m
	}
	return e
}

// InvokeChat normalizes snapshot, routes it to one enabled backend, and
// invokes that backend, classifying any failure into a CanonicalError
// carried on the returned envelope rather than as a Go error — the only
// errors InvokeChat itself returns are normalize-time serialization
// failures, which precede routing entirely.
func (e *Engine) InvokeChat(ctx context.Context, snapshot api.ChatSessionSnapshot) (api.CanonicalResponseEnvelope, error) {
	requestID := uuid.NewString()

	req, err := Normalize(requestID, snapshot)
	if err != nil {
		return api.CanonicalResponseEnvelope{}, err
	}

	adapter, cfg, cerr := e.router.Select(&req)
	if cerr != nil {
		return api.CanonicalResponseEnvelope{
			RequestID: req.RequestID,
			Operation: req.Operation,
			Err:       cerr,
		}, nil
	}

	e.metrics.ObserveBackendSelection(cfg.Name)

	resp, invokeErr := adapter.Invoke(ctx, req)
	if invokeErr != nil {
		cerr := classifyInvokeError(req.Operation, invokeErr)
		e.metrics.ObserveBackendInvokeError(cfg.Name, cerr.Code)
		return api.CanonicalResponseEnvelope{
			RequestID: req.RequestID,
			Operation: req.Operation,
			Backend:   api.BackendRef{Name: cfg.Name},
			Err:       cerr,
		}, nil
	}
	return resp, nil
}
