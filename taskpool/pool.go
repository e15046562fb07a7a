// File: taskpool/pool.go
// Author: momentics <momentics@gmail.com>
//
// Package taskpool implements C4: one pool per task, the three-step
// dispatch policy with spawn-or-queue-or-ResourceExhausted fallback, the
// scaling loop, health reconciliation, and drain-then-stop shutdown
// (spec §4.4). Grounded on internal/concurrency/scheduler.go and
// internal/concurrency/executor.go's periodic tick loop and worker
// resize shape, and on api/pool.go's BytePool/ObjectPool generalized
// from pooling buffers to pooling instances — corrected rather than
// copied forward, since the teacher's scheduler.go/executor.go carry
// bugs (an undefined taskHeap type, an unimported unsafe reference, and
// NumWorkers returning any instead of int) that have no place in new code.
package taskpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

// Errors surfaced to callers of Dispatch.
var (
	ErrResourceExhausted = api.NewError(api.KindResource, "RESOURCE_EXHAUSTED", "pending queue full and at max_instances")
	ErrExecutionFailed   = api.NewError(api.KindPermanent, "EXECUTION_FAILED", "request failed after exhausting retry attempts")
	ErrPoolShuttingDown  = api.NewError(api.KindPermanent, "POOL_SHUTTING_DOWN", "pool is draining and refuses new dispatch")
)

// pendingRequest describes a queued Dispatch call. The pending queue does
// not store it: enqueueAndWait queues only each call's
// chan *runtimeadapter.Instance.
type pendingRequest struct {
	ctx     context.Context
	req     api.ExecutionRequest
	resultC chan dispatchResult
}

type dispatchResult struct {
	resp api.ExecutionResponse
	err  error
}

// Pool owns every live Instance for one Task, plus the queue of requests
// waiting for one to free up.
type Pool struct {
	task    api.TaskSpec
	adapter runtimeadapter.RuntimeAdapter
	instCfg api.InstanceConfig

	mu         sync.Mutex
	instances  map[string]*runtimeadapter.Instance
	spawning   int // counted against max_instances before Ready, to prevent overshoot
	pending    *queue.Queue
	pendingCap int
	draining   bool

	scale scalingState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool constructs a pool for task, backed by adapter, with instances
// configured per instCfg. pendingCap bounds the request queue before
// Dispatch returns ResourceExhausted.
func NewPool(task api.TaskSpec, adapter runtimeadapter.RuntimeAdapter, instCfg api.InstanceConfig, pendingCap int) *Pool {
	return &Pool{
		task:       task,
		adapter:    adapter,
		instCfg:    instCfg,
		instances:  make(map[string]*runtimeadapter.Instance),
		pending:    queue.New(),
		pendingCap: pendingCap,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the pool's background scaling and health-reconciliation
// loops, plus min_instances initial instances.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	min := p.task.MinInstances
	p.mu.Unlock()

	for i := 0; i < min; i++ {
		if _, err := p.spawnInstance(ctx); err != nil {
			return err
		}
	}

	interval := time.Duration(p.task.HealthCheckConfig.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}

	p.wg.Add(2)
	go p.runScalingLoop(ctx)
	go p.runHealthLoop(ctx, interval)
	return nil
}

// readyInstances returns every instance currently in StatusReady, for
// use by the dispatch policy and the scaling loop's utilization sum.
func (p *Pool) readyInstances() []*runtimeadapter.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*runtimeadapter.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		if inst.Status() == api.StatusReady {
			out = append(out, inst)
		}
	}
	return out
}

// countLive returns the number of instances counted against
// max_instances: Ready + Starting + in-flight spawns not yet registered.
func (p *Pool) countLive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.spawning
	for _, inst := range p.instances {
		s := inst.Status()
		if s == api.StatusReady || s == api.StatusStarting {
			n++
		}
	}
	return n
}

// spawnInstance creates and starts a new instance, reserving a slot
// against max_instances before the adapter call returns (spec §4.4:
// "count it immediately against the upper bound before it becomes Ready
// to prevent overshoot").
func (p *Pool) spawnInstance(ctx context.Context) (*runtimeadapter.Instance, error) {
	p.mu.Lock()
	p.spawning++
	p.mu.Unlock()
	release := func() {
		p.mu.Lock()
		p.spawning--
		p.mu.Unlock()
	}

	inst, err := p.adapter.CreateInstance(ctx, p.instCfg)
	if err != nil {
		release()
		return nil, err
	}

	p.mu.Lock()
	p.instances[inst.ID.String()] = inst
	p.mu.Unlock()
	release()

	if err := p.adapter.StartInstance(ctx, inst); err != nil {
		inst.MarkError(err.Error())
		return nil, err
	}
	return inst, nil
}

// removeInstance drops inst from the pool's tracking map, used after a
// stop or an Unhealthy eviction.
func (p *Pool) removeInstance(id string) {
	p.mu.Lock()
	delete(p.instances, id)
	p.mu.Unlock()
}

// InstanceCount returns the number of tracked instances (any status),
// exposed for tests and control-plane introspection.
func (p *Pool) InstanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}

// String identifies the pool by task name, useful in logs.
func (p *Pool) String() string {
	return fmt.Sprintf("pool(task=%s)", p.task.Name)
}
