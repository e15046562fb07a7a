// File: runtimeadapter/adapter.go
// Author: momentics <momentics@gmail.com>
//
// Package runtimeadapter implements C3: the six-operation contract each
// runtime kind (process, kubernetes job, wasm) exposes to the task pool,
// plus the instance state machine (spec §4.3). Grounded on the thin-
// wrapper-over-interface shape of adapters/control_adapter.go and
// adapters/affinity_adapter.go, generalized from "adapt an internal
// concurrency primitive to an api interface" to "adapt a runtime kind to
// the RuntimeAdapter interface".
package runtimeadapter

import (
	"context"
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

// HealthStatus is the result of a health_check probe.
type HealthStatus struct {
	Healthy bool
	Reason  string
}

// RuntimeAdapter is implemented once per runtime kind (process,
// kubernetes, wasm).
type RuntimeAdapter interface {
	CreateInstance(ctx context.Context, cfg api.InstanceConfig) (*Instance, error)
	StartInstance(ctx context.Context, inst *Instance) error
	StopInstance(ctx context.Context, inst *Instance) error
	HealthCheck(ctx context.Context, inst *Instance) HealthStatus
	Execute(ctx context.Context, inst *Instance, req api.ExecutionRequest) (api.ExecutionResponse, error)
	Capabilities() api.AdapterCapabilities
}

// Instance is the pool's live handle on a runtime-adapter-managed
// execution context (spec §3 Instance).
type Instance struct {
	mu sync.RWMutex

	ID      api.RuntimeInstanceId
	Config  api.InstanceConfig
	status  api.InstanceStatus
	errMsg  string
	metrics api.InstanceMetrics
	Channel channel.CommunicationChannel

	// consecutiveFailures tracks health_check misses for the two-strikes
	// Unhealthy rule (spec §4.4).
	consecutiveFailures int

	// AdapterState holds runtime-adapter-specific bookkeeping (e.g. the
	// process adapter's pending handshake channel and *exec.Cmd, or the
	// kubernetes adapter's job/pod names). Opaque to this package.
	AdapterState any
}

// NewInstance constructs an Instance in the Starting state, owned by a
// runtime adapter's CreateInstance.
func NewInstance(id api.RuntimeInstanceId, cfg api.InstanceConfig) *Instance {
	return &Instance{
		ID:     id,
		Config: cfg,
		status: api.StatusStarting,
	}
}

// Status returns the instance's current lifecycle state.
func (i *Instance) Status() api.InstanceStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// ErrorReason returns the diagnostic message attached when status is Error.
func (i *Instance) ErrorReason() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.errMsg
}

// Metrics returns a snapshot of the instance's dispatch metrics.
func (i *Instance) Metrics() api.InstanceMetrics {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metrics
}

// transition validates and applies a state-machine edge per spec §4.3:
// Starting → Ready on first Healthy; Ready ↔ Draining on pool command;
// Draining → Stopped once active_requests == 0; any state → Error/
// Unhealthy on repeated probe failure.
func (i *Instance) transition(to api.InstanceStatus, reason string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	from := i.status
	switch to {
	case api.StatusReady:
		if from != api.StatusStarting && from != api.StatusDraining {
			return api.NewError(api.KindPermanent, "EINVAL", "invalid transition to Ready from "+from.String())
		}
	case api.StatusDraining:
		if from != api.StatusReady {
			return api.NewError(api.KindPermanent, "EINVAL", "invalid transition to Draining from "+from.String())
		}
	case api.StatusStopped:
		if from != api.StatusDraining && from != api.StatusStarting {
			return api.NewError(api.KindPermanent, "EINVAL", "invalid transition to Stopped from "+from.String())
		}
	case api.StatusError, api.StatusUnhealthy:
		// Reachable from any state.
	default:
		return api.NewError(api.KindPermanent, "EINVAL", "unsupported target status")
	}

	i.status = to
	if to == api.StatusError {
		i.errMsg = reason
	}
	return nil
}

// MarkReady transitions Starting/Draining → Ready on a successful probe.
func (i *Instance) MarkReady() error { return i.transition(api.StatusReady, "") }

// MarkDraining transitions Ready → Draining on a pool retire decision.
func (i *Instance) MarkDraining() error { return i.transition(api.StatusDraining, "") }

// MarkStopped transitions Draining/Starting → Stopped once resources
// are released.
func (i *Instance) MarkStopped() error { return i.transition(api.StatusStopped, "") }

// MarkError force-transitions to Error(reason) from any state.
func (i *Instance) MarkError(reason string) { _ = i.transition(api.StatusError, reason) }

// MarkUnhealthy force-transitions to Unhealthy from any state.
func (i *Instance) MarkUnhealthy() { _ = i.transition(api.StatusUnhealthy, "") }

// RecordProbe applies the two-consecutive-failures ⇒ Unhealthy rule
// (spec §4.4 health reconciliation) and resets the streak on success.
func (i *Instance) RecordProbe(result HealthStatus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if result.Healthy {
		i.consecutiveFailures = 0
		return
	}
	i.consecutiveFailures++
	if i.consecutiveFailures >= 2 {
		i.status = api.StatusUnhealthy
		i.errMsg = result.Reason
	}
}

// Touch updates last_activity and the dispatch counters. delta is +1
// when a request starts, -1 when it completes; durationMs is added to
// the running average only on completion (delta == -1).
func (i *Instance) Touch(delta int64, durationMs float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.metrics.ActiveRequests += delta
	i.metrics.LastActivity = now()
	if delta < 0 {
		i.metrics.TotalRequests++
		n := float64(i.metrics.TotalRequests)
		i.metrics.AvgRequestTimeMs = i.metrics.AvgRequestTimeMs + (durationMs-i.metrics.AvgRequestTimeMs)/n
	}
}

// now returns time.Now(). It is a plain function, not a variable, so
// tests cannot replace it.
func now() time.Time { return time.Now() }
