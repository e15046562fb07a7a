// File: taskpool/dispatch.go
// Author: momentics <momentics@gmail.com>
//
// Dispatch policy (spec §4.4): pick a Ready instance by (1) active <
// max_concurrent_requests, (2) least active_requests, (3) lowest
// avg_request_time_ms, tie-break by most recent last_activity. Falls
// back to spawning a new instance, then to a bounded pending queue,
// then to ResourceExhausted.
package taskpool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

// Dispatch selects or spawns an instance and executes req against it,
// retrying against a different instance up to retry_policy.max_attempts
// times when the channel fails and the request is marked idempotent.
func (p *Pool) Dispatch(ctx context.Context, req api.ExecutionRequest, maxAttempts int) (api.ExecutionResponse, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return api.ExecutionResponse{}, ErrPoolShuttingDown
	}
	p.mu.Unlock()

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	tried := make(map[string]bool)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		inst, err := p.selectOrSpawnOrQueue(ctx, tried)
		if err != nil {
			return api.ExecutionResponse{}, err
		}
		tried[inst.ID.String()] = true

		resp, err := p.adapter.Execute(ctx, inst, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !req.Idempotent || attempt == maxAttempts-1 {
			break
		}
	}
	return api.ExecutionResponse{}, fmt.Errorf("%w: %v", ErrExecutionFailed, lastErr)
}

// selectOrSpawnOrQueue implements the three-step dispatch policy, then
// the spawn-or-queue-or-ResourceExhausted fallback. excluding lists
// instance ids already tried this Dispatch call (used by retry).
func (p *Pool) selectOrSpawnOrQueue(ctx context.Context, excluding map[string]bool) (*runtimeadapter.Instance, error) {
	if inst := p.pickReadyInstance(excluding); inst != nil {
		return inst, nil
	}

	if p.countLive() < p.task.MaxInstances {
		inst, err := p.spawnInstance(ctx)
		if err == nil {
			return inst, nil
		}
		// Fall through to queueing if the spawn itself failed transiently.
	}

	return p.enqueueAndWait(ctx)
}

// pickReadyInstance applies the three-step ordering over every Ready
// instance not already in excluding.
func (p *Pool) pickReadyInstance(excluding map[string]bool) *runtimeadapter.Instance {
	candidates := make([]*runtimeadapter.Instance, 0)
	for _, inst := range p.readyInstances() {
		if excluding[inst.ID.String()] {
			continue
		}
		m := inst.Metrics()
		if m.ActiveRequests < int64(p.instCfg.MaxConcurrentRequests) || p.instCfg.MaxConcurrentRequests == 0 {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		mi, mj := candidates[i].Metrics(), candidates[j].Metrics()
		if mi.ActiveRequests != mj.ActiveRequests {
			return mi.ActiveRequests < mj.ActiveRequests
		}
		if mi.AvgRequestTimeMs != mj.AvgRequestTimeMs {
			return mi.AvgRequestTimeMs < mj.AvgRequestTimeMs
		}
		return mi.LastActivity.After(mj.LastActivity)
	})
	return candidates[0]
}

// enqueueAndWait appends a waiter channel and blocks until a dispatch
// slot frees it (via drainPending) or the bounded queue is full, in
// which case it returns ResourceExhausted immediately.
func (p *Pool) enqueueAndWait(ctx context.Context) (*runtimeadapter.Instance, error) {
	p.mu.Lock()
	if p.pending.Length() >= p.pendingCap {
		p.mu.Unlock()
		return nil, ErrResourceExhausted
	}
	waiter := make(chan *runtimeadapter.Instance, 1)
	p.pending.Add(waiter)
	p.mu.Unlock()

	select {
	case inst := <-waiter:
		if inst == nil {
			return nil, ErrPoolShuttingDown
		}
		return inst, nil
	case <-ctx.Done():
		return nil, api.NewError(api.KindTransient, "ETIMEDOUT", "dispatch cancelled while queued")
	case <-time.After(p.queueWaitTimeout()):
		return nil, ErrResourceExhausted
	}
}

// queueWaitTimeout bounds how long a queued request waits for a slot
// before giving up, derived from the task's configured request timeout.
func (p *Pool) queueWaitTimeout() time.Duration {
	ms := p.task.TimeoutConfig.RequestTimeoutMs
	if ms == 0 {
		return 30 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// drainPending hands freed capacity to the oldest waiting request. Called
// whenever an instance transitions into Ready or completes a request.
func (p *Pool) drainPending() {
	for {
		p.mu.Lock()
		if p.pending.Length() == 0 {
			p.mu.Unlock()
			return
		}
		inst := p.pickReadyInstance(nil)
		if inst == nil {
			p.mu.Unlock()
			return
		}
		waiterAny := p.pending.Remove()
		p.mu.Unlock()

		waiter := waiterAny.(chan *runtimeadapter.Instance)
		select {
		case waiter <- inst:
		default:
		}
	}
}
