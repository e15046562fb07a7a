// File: taskpool/scaling.go
// Author: momentics <momentics@gmail.com>
//
// Scaling loop (spec §4.4): periodic, single-threaded per pool.
// utilization = Σ active_requests / Σ max_concurrent_requests over Ready
// instances. Scale up past N consecutive over-threshold ticks; scale
// down past an idle instance once utilization is low and min_instances
// still holds; both respect a cool-down window. Grounded on
// internal/concurrency/eventloop.go's periodic-tick shape (reworked from
// a spin-wait ring consumer into a plain time.Ticker, since this loop's
// period is seconds, not microseconds).
package taskpool

import (
	"context"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

// scalingState tracks the consecutive-tick counters and cool-down
// deadline the scaling loop needs across invocations.
type scalingState struct {
	overThresholdTicks int
	lastScaleAt        time.Time
}

func (p *Pool) runScalingLoop(ctx context.Context) {
	defer p.wg.Done()

	cfg := p.task.ScalingConfig
	interval := time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scalingTick(ctx, cfg)
		}
	}
}

func (p *Pool) scalingTick(ctx context.Context, cfg api.ScalingConfig) {
	ready := p.readyInstances()
	if len(ready) == 0 {
		return
	}

	var activeSum, capacitySum int64
	for _, inst := range ready {
		activeSum += inst.Metrics().ActiveRequests
		capacitySum += int64(p.instCfg.MaxConcurrentRequests)
	}
	if capacitySum == 0 {
		return
	}
	utilization := float64(activeSum) / float64(capacitySum)

	cooldown := time.Duration(cfg.CooldownMs) * time.Millisecond
	inCooldown := time.Since(p.scale.lastScaleAt) < cooldown

	if utilization > cfg.ScaleUpThreshold {
		p.scale.overThresholdTicks++
		if p.scale.overThresholdTicks >= cfg.ConsecutiveTicks && !inCooldown && p.countLive() < p.task.MaxInstances {
			if _, err := p.spawnInstance(ctx); err == nil {
				p.scale.lastScaleAt = time.Now()
			}
			p.scale.overThresholdTicks = 0
		}
		return
	}
	p.scale.overThresholdTicks = 0

	if utilization < cfg.ScaleDownThreshold && len(ready) > p.task.MinInstances && !inCooldown {
		idle := p.findIdleInstance(ready, cfg.IdleTimeout)
		if idle != nil {
			if err := idle.MarkDraining(); err == nil {
				go p.drainAndStop(ctx, idle)
				p.scale.lastScaleAt = time.Now()
			}
		}
	}
}

// findIdleInstance returns the first Ready instance whose last_activity
// is older than idleTimeout, or nil.
func (p *Pool) findIdleInstance(ready []*runtimeadapter.Instance, idleTimeout time.Duration) *runtimeadapter.Instance {
	now := time.Now()
	for _, inst := range ready {
		if now.Sub(inst.Metrics().LastActivity) >= idleTimeout {
			return inst
		}
	}
	return nil
}
