// File: taskpool/health.go
// Author: momentics <momentics@gmail.com>
//
// Health reconciliation (spec §4.4): background ticker runs health_check
// on each Ready/Starting instance; two consecutive failures mark the
// instance Unhealthy and schedule its removal, after which the pool
// re-enters a scaling decision on the next tick.
package taskpool

import (
	"context"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

func (p *Pool) runHealthLoop(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.healthTick(ctx)
		}
	}
}

func (p *Pool) healthTick(ctx context.Context) {
	p.mu.Lock()
	snapshot := make([]*instanceRef, 0, len(p.instances))
	for id, inst := range p.instances {
		s := inst.Status()
		if s == api.StatusReady || s == api.StatusStarting {
			snapshot = append(snapshot, &instanceRef{id: id, inst: inst})
		}
	}
	p.mu.Unlock()

	for _, ref := range snapshot {
		result := p.adapter.HealthCheck(ctx, ref.inst)
		ref.inst.RecordProbe(result)
		if ref.inst.Status() == api.StatusUnhealthy {
			go p.evacuateAndReplace(ctx, ref.id, ref.inst)
		}
	}
}

type instanceRef struct {
	id   string
	inst *runtimeadapter.Instance
}

// evacuateAndReplace removes an Unhealthy instance from rotation, stops
// it, and — if the pool still needs min_instances — spawns a
// replacement.
func (p *Pool) evacuateAndReplace(ctx context.Context, id string, inst *runtimeadapter.Instance) {
	p.removeInstance(id)
	_ = p.adapter.StopInstance(ctx, inst)

	if p.countLive() < p.task.MinInstances {
		_, _ = p.spawnInstance(ctx)
	}
}
