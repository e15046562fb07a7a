// File: taskpool/shutdown.go
// Author: momentics <momentics@gmail.com>
//
// Shutdown (spec §4.4): Draining broadcasts; each instance refuses new
// dispatch, drains in-flight requests, then stops. A hard timeout
// escalates to forced stop. Implements api.GracefulShutdown.
package taskpool

import (
	"context"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

var _ api.GracefulShutdown = (*Pool)(nil)

// drainAndStop waits for an individual instance's active_requests to
// reach zero (or a hard timeout), then stops it via the adapter. Used
// both by the scaling loop's scale-down path and by Shutdown.
func (p *Pool) drainAndStop(ctx context.Context, inst *runtimeadapter.Instance) {
	p.drainInstance(ctx, inst, 30*time.Second)
	p.removeInstance(inst.ID.String())
	_ = p.adapter.StopInstance(ctx, inst)
}

func (p *Pool) drainInstance(ctx context.Context, inst *runtimeadapter.Instance, hardTimeout time.Duration) {
	deadline := time.Now().Add(hardTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if inst.Metrics().ActiveRequests == 0 {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown halts the scaling and health-reconciliation loops, then drains
// and stops every instance one after another. Each drain waits at most
// 30s for in-flight requests before the adapter stops the instance
// regardless; all drains share one 35s context, so once it expires the
// remaining drains end at once and StopInstance gets the expired context.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	p.draining = true
	instances := make([]*runtimeadapter.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		instances = append(instances, inst)
	}
	// Wake every queued Dispatch call with a nil instance so it returns
	// ErrPoolShuttingDown instead of blocking until its own timeout.
	for p.pending.Length() > 0 {
		waiter := p.pending.Remove().(chan *runtimeadapter.Instance)
		select {
		case waiter <- nil:
		default:
		}
	}
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	for _, inst := range instances {
		if err := inst.MarkDraining(); err != nil {
			// Instance never reached Ready (still Starting, or already
			// Error/Unhealthy); stop it directly without draining.
			_ = p.adapter.StopInstance(ctx, inst)
			p.removeInstance(inst.ID.String())
			continue
		}
		p.drainAndStop(ctx, inst)
	}
	return nil
}
