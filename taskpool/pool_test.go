package taskpool_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
	"github.com/lfedgeai/spearlet-core/taskpool"
)

// fakeAdapter is an in-memory RuntimeAdapter test double: CreateInstance
// always succeeds instantly, StartInstance marks Ready immediately unless
// failStart is set, Execute returns a canned response or the configured
// error, and HealthCheck reports healthy unless forced unhealthy.
type fakeAdapter struct {
	mu        sync.Mutex
	seq       int
	failStart bool
	unhealthy map[string]bool
	execErr   error
	execDelay time.Duration
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{unhealthy: make(map[string]bool)}
}

func (f *fakeAdapter) CreateInstance(ctx context.Context, cfg api.InstanceConfig) (*runtimeadapter.Instance, error) {
	f.mu.Lock()
	f.seq++
	id := api.RuntimeInstanceId{Kind: api.RuntimeProcess, Instance: fmt.Sprintf("inst-%d", f.seq)}
	f.mu.Unlock()
	return runtimeadapter.NewInstance(id, cfg), nil
}

func (f *fakeAdapter) StartInstance(ctx context.Context, inst *runtimeadapter.Instance) error {
	if f.failStart {
		inst.MarkError("forced start failure")
		return fmt.Errorf("forced start failure")
	}
	return inst.MarkReady()
}

func (f *fakeAdapter) StopInstance(ctx context.Context, inst *runtimeadapter.Instance) error {
	return inst.MarkStopped()
}

func (f *fakeAdapter) HealthCheck(ctx context.Context, inst *runtimeadapter.Instance) runtimeadapter.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unhealthy[inst.ID.String()] {
		return runtimeadapter.HealthStatus{Healthy: false, Reason: "forced unhealthy"}
	}
	return runtimeadapter.HealthStatus{Healthy: true}
}

func (f *fakeAdapter) Execute(ctx context.Context, inst *runtimeadapter.Instance, req api.ExecutionRequest) (api.ExecutionResponse, error) {
	inst.Touch(1, 0)
	defer inst.Touch(-1, 1)
	if f.execDelay > 0 {
		time.Sleep(f.execDelay)
	}
	if f.execErr != nil {
		return api.ExecutionResponse{}, f.execErr
	}
	return api.ExecutionResponse{RequestID: req.RequestID, Status: api.ExecCompleted}, nil
}

func (f *fakeAdapter) Capabilities() api.AdapterCapabilities {
	return api.AdapterCapabilities{Scalable: true}
}

func testTask(min, max int) api.TaskSpec {
	return api.TaskSpec{
		Name:         "echo",
		RuntimeKind:  api.RuntimeProcess,
		MinInstances: min,
		MaxInstances: max,
		ScalingConfig: api.ScalingConfig{
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.2,
			ConsecutiveTicks:   3,
			CooldownMs:         30_000,
			IdleTimeout:        5 * time.Minute,
		},
		HealthCheckConfig: api.HealthCheckConfig{IntervalMs: 50},
		TimeoutConfig:     api.TimeoutConfig{RequestTimeoutMs: 2000},
	}
}

func testInstCfg() api.InstanceConfig {
	return api.InstanceConfig{MaxConcurrentRequests: 2}
}

func TestStartSpawnsMinInstances(t *testing.T) {
	adapter := newFakeAdapter()
	p := taskpool.NewPool(testTask(2, 4), adapter, testInstCfg(), 8)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	if got := p.InstanceCount(); got != 2 {
		t.Fatalf("InstanceCount = %d, want 2", got)
	}
}

func TestDispatchSequentialRequestsSucceed(t *testing.T) {
	adapter := newFakeAdapter()
	p := taskpool.NewPool(testTask(2, 4), adapter, testInstCfg(), 8)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		req := api.ExecutionRequest{RequestID: fmt.Sprintf("r-%d", i), Idempotent: true}
		if _, err := p.Dispatch(ctx, req, 3); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}
}

func TestDispatchResourceExhaustedWhenQueueFullAndAtMax(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.execDelay = 200 * time.Millisecond
	p := taskpool.NewPool(testTask(1, 1), adapter, api.InstanceConfig{MaxConcurrentRequests: 1}, 0)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	ctx := context.Background()
	var wg sync.WaitGroup
	var exhausted int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := api.ExecutionRequest{RequestID: fmt.Sprintf("r-%d", n)}
			_, err := p.Dispatch(ctx, req, 1)
			if err == taskpool.ErrResourceExhausted {
				atomic.AddInt32(&exhausted, 1)
			}
		}(i)
	}
	wg.Wait()
	if atomic.LoadInt32(&exhausted) == 0 {
		t.Fatalf("expected at least one ResourceExhausted with zero-capacity queue and max_instances=1")
	}
}

func TestDispatchRetriesIdempotentRequestOnFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.execErr = fmt.Errorf("transient channel error")
	p := taskpool.NewPool(testTask(1, 2), adapter, testInstCfg(), 8)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	req := api.ExecutionRequest{RequestID: "r", Idempotent: true}
	_, err := p.Dispatch(context.Background(), req, 2)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestHealthReconciliationEvacuatesUnhealthyInstance(t *testing.T) {
	adapter := newFakeAdapter()
	p := taskpool.NewPool(testTask(1, 2), adapter, testInstCfg(), 8)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	if p.InstanceCount() != 1 {
		t.Fatalf("InstanceCount = %d, want 1", p.InstanceCount())
	}

	adapter.mu.Lock()
	for id := range adapter.unhealthy {
		delete(adapter.unhealthy, id)
	}
	adapter.mu.Unlock()

	// Mark every currently-tracked instance unhealthy in the fake, then
	// wait for the health loop (50ms interval) to evacuate and replace it.
	markAllUnhealthy(t, p, adapter)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		adapter.mu.Lock()
		spawned := adapter.seq
		adapter.mu.Unlock()
		if spawned >= 2 && p.InstanceCount() == 1 {
			// Replacement spawned; pool still holds min_instances.
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("pool never reconciled back to min_instances after forced-unhealthy probe")
}

// markAllUnhealthy is a small reflection-free helper: since Pool doesn't
// expose its instance ids directly, it forces unhealthiness for every id
// the fake adapter has issued so far.
func markAllUnhealthy(t *testing.T, p *taskpool.Pool, adapter *fakeAdapter) {
	t.Helper()
	adapter.mu.Lock()
	for i := 1; i <= adapter.seq; i++ {
		id := fmt.Sprintf("process:inst-%d", i)
		adapter.unhealthy[id] = true
	}
	adapter.mu.Unlock()
}

func TestShutdownStopsAllInstances(t *testing.T) {
	adapter := newFakeAdapter()
	p := taskpool.NewPool(testTask(2, 2), adapter, testInstCfg(), 8)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := p.InstanceCount(); got != 0 {
		t.Fatalf("InstanceCount after Shutdown = %d, want 0", got)
	}

	req := api.ExecutionRequest{RequestID: "late"}
	if _, err := p.Dispatch(context.Background(), req, 1); err != taskpool.ErrPoolShuttingDown {
		t.Fatalf("Dispatch after Shutdown = %v, want ErrPoolShuttingDown", err)
	}
}
