// File: functionservice/types.go
// Author: momentics <momentics@gmail.com>
//
// Package functionservice implements C7: InvokeFunction's sync/async/
// stream handling, execution id allocation, the TTL-bounded execution
// tracker, and GetExecutionStatus (spec §4.7). Grounded on
// facade/hioload.go / server/hioload.go's New/Start/Stop/Shutdown and
// subsystem-field-wiring shape, generalized from "poller + executor +
// session manager" to "task-pool registry + task resolver + execution
// tracker".
package functionservice

import (
	"context"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

// TaskResolver looks up a task_id against the SMS/kv collaborator that
// owns task definitions. functionservice never talks to SMS directly —
// it only depends on this narrow interface.
type TaskResolver interface {
	ResolveTask(ctx context.Context, taskID string) (api.Task, error)
}

// AdapterResolver maps a task's runtime kind to the concrete adapter
// that can create and start instances for it.
type AdapterResolver interface {
	Adapter(kind api.RuntimeKind) (runtimeadapter.RuntimeAdapter, bool)
}

// TrackedExecution is the execution tracker's view of one execution,
// returned verbatim by GetExecutionStatus.
type TrackedExecution struct {
	ExecutionID           string
	Status                api.ExecutionStatus
	Result                *api.ExecutionResponse
	StartedAt             time.Time
	EstimatedCompletionMs int64
}

// InvokeResponse is InvokeFunction's result: either a terminal Result
// (sync path) or a Pending accepted-for-async shape (async path).
type InvokeResponse struct {
	ExecutionID           string
	Status                api.ExecutionStatus
	StatusEndpoint        string
	EstimatedCompletionMs int64
	Result                *api.ExecutionResponse
}

// Errors surfaced directly by InvokeFunction/GetExecutionStatus.
var (
	ErrStreamNotSupported = api.NewError(api.KindPermanent, "STREAM_NOT_SUPPORTED", "use the streaming RPC path for execution_mode=stream")
	ErrUnknownRuntimeKind  = api.NewError(api.KindPermanent, "UNKNOWN_RUNTIME_KIND", "no adapter registered for the task's runtime kind")
)
