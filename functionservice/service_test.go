package functionservice_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/functionservice"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

// fakeAdapter is a minimal in-memory RuntimeAdapter: CreateInstance and
// StartInstance always succeed immediately, Execute returns a canned
// response or a configured error.
type fakeAdapter struct {
	mu      sync.Mutex
	seq     int
	execErr error
}

func (f *fakeAdapter) CreateInstance(ctx context.Context, cfg api.InstanceConfig) (*runtimeadapter.Instance, error) {
	f.mu.Lock()
	f.seq++
	id := api.RuntimeInstanceId{Kind: api.RuntimeProcess, Instance: fmt.Sprintf("inst-%d", f.seq)}
	f.mu.Unlock()
	return runtimeadapter.NewInstance(id, cfg), nil
}

func (f *fakeAdapter) StartInstance(ctx context.Context, inst *runtimeadapter.Instance) error {
	return inst.MarkReady()
}

func (f *fakeAdapter) StopInstance(ctx context.Context, inst *runtimeadapter.Instance) error {
	return inst.MarkStopped()
}

func (f *fakeAdapter) HealthCheck(ctx context.Context, inst *runtimeadapter.Instance) runtimeadapter.HealthStatus {
	return runtimeadapter.HealthStatus{Healthy: true}
}

func (f *fakeAdapter) Execute(ctx context.Context, inst *runtimeadapter.Instance, req api.ExecutionRequest) (api.ExecutionResponse, error) {
	f.mu.Lock()
	err := f.execErr
	f.mu.Unlock()
	if err != nil {
		return api.ExecutionResponse{}, err
	}
	return api.ExecutionResponse{RequestID: req.RequestID, Status: api.ExecCompleted, OutputBytes: []byte("ok")}, nil
}

func (f *fakeAdapter) Capabilities() api.AdapterCapabilities {
	return api.AdapterCapabilities{Scalable: true}
}

type fakeResolver struct {
	tasks map[string]api.Task
}

func (r *fakeResolver) ResolveTask(ctx context.Context, taskID string) (api.Task, error) {
	t, ok := r.tasks[taskID]
	if !ok {
		return api.Task{}, api.ErrNotFound
	}
	return t, nil
}

type fakeAdapterResolver struct {
	adapter runtimeadapter.RuntimeAdapter
}

func (r *fakeAdapterResolver) Adapter(kind api.RuntimeKind) (runtimeadapter.RuntimeAdapter, bool) {
	if kind != api.RuntimeProcess {
		return nil, false
	}
	return r.adapter, true
}

func testTask(name string) api.Task {
	return api.Task{
		TaskID: name,
		Spec: api.TaskSpec{
			Name:              name,
			RuntimeKind:       api.RuntimeProcess,
			MinInstances:      1,
			MaxInstances:      2,
			TargetConcurrency: 4,
		},
	}
}

func newTestService(t *testing.T, adapter *fakeAdapter, tasks map[string]api.Task) *functionservice.Service {
	t.Helper()
	cfg := functionservice.DefaultConfig()
	cfg.TrackerSweepInterval = 20 * time.Millisecond
	resolver := &fakeResolver{tasks: tasks}
	adapters := &fakeAdapterResolver{adapter: adapter}
	svc := functionservice.New(cfg, resolver, adapters)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc
}

func TestInvokeFunctionSyncCompletes(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newTestService(t, adapter, map[string]api.Task{"echo": testTask("echo")})

	resp, err := svc.InvokeFunction(context.Background(), api.ExecutionRequest{
		RequestID: "r-1", TaskID: "echo", ExecutionMode: api.ExecSync,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	require.Equal(t, api.ExecCompleted, resp.Result.Status)
}

func TestInvokeFunctionSyncFailureYieldsFailedResponseNotError(t *testing.T) {
	adapter := &fakeAdapter{execErr: fmt.Errorf("boom")}
	svc := newTestService(t, adapter, map[string]api.Task{"echo": testTask("echo")})

	resp, err := svc.InvokeFunction(context.Background(), api.ExecutionRequest{
		RequestID: "r-2", TaskID: "echo", ExecutionMode: api.ExecSync, Idempotent: false,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	require.Equal(t, api.ExecFailed, resp.Result.Status)
}

func TestInvokeFunctionSyncUnknownTaskYieldsFailedResponse(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newTestService(t, adapter, map[string]api.Task{})

	resp, err := svc.InvokeFunction(context.Background(), api.ExecutionRequest{
		RequestID: "r-3", TaskID: "missing", ExecutionMode: api.ExecSync,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	require.Equal(t, api.ExecFailed, resp.Result.Status)
}

func TestInvokeFunctionAsyncReportsPendingThenCompleted(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newTestService(t, adapter, map[string]api.Task{"echo": testTask("echo")})

	resp, err := svc.InvokeFunction(context.Background(), api.ExecutionRequest{
		RequestID: "r-4", TaskID: "echo", ExecutionMode: api.ExecAsync,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ExecutionID)
	require.Equal(t, api.ExecPending, resp.Status)
	require.Equal(t, "/status/"+resp.ExecutionID, resp.StatusEndpoint)

	require.Eventually(t, func() bool {
		status, found := svc.GetExecutionStatus(resp.ExecutionID)
		return found && status.Status == api.ExecCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestGetExecutionStatusNotFoundForUnknownID(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newTestService(t, adapter, map[string]api.Task{"echo": testTask("echo")})

	_, found := svc.GetExecutionStatus("never-issued")
	require.False(t, found)
}

func TestInvokeFunctionStreamIsRejected(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newTestService(t, adapter, map[string]api.Task{"echo": testTask("echo")})

	_, err := svc.InvokeFunction(context.Background(), api.ExecutionRequest{
		RequestID: "r-5", TaskID: "echo", ExecutionMode: api.ExecStream,
	})
	require.ErrorIs(t, err, functionservice.ErrStreamNotSupported)
}
