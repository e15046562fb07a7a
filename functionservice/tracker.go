// File: functionservice/tracker.go
// Author: momentics <momentics@gmail.com>
//
// Execution tracker: a concurrent execution_id -> TrackedExecution map,
// with completed entries retained for a configurable TTL (spec §4.7).
// Grounded on fdtable.Table's mutex-guarded map-of-handles shape,
// generalized from file descriptors to async execution records.
package functionservice

import (
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

type trackerEntry struct {
	TrackedExecution
	completedAt time.Time
	terminal    bool
}

// tracker owns every in-flight or recently-completed async execution.
type tracker struct {
	mu      sync.RWMutex
	entries map[string]*trackerEntry
	ttl     time.Duration
}

func newTracker(ttl time.Duration) *tracker {
	return &tracker{entries: make(map[string]*trackerEntry), ttl: ttl}
}

// recordPending registers a freshly-accepted async execution.
func (t *tracker) recordPending(executionID string, startedAt time.Time, estimatedCompletionMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[executionID] = &trackerEntry{
		TrackedExecution: TrackedExecution{
			ExecutionID:           executionID,
			Status:                api.ExecPending,
			StartedAt:             startedAt,
			EstimatedCompletionMs: estimatedCompletionMs,
		},
	}
}

// markRunning transitions a tracked execution from Pending to Running,
// a no-op if the id is unknown (already swept, or never tracked).
func (t *tracker) markRunning(executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[executionID]; ok && !e.terminal {
		e.Status = api.ExecRunning
	}
}

// complete records a terminal result for executionID, starting its TTL
// countdown from now.
func (t *tracker) complete(executionID string, now time.Time, resp api.ExecutionResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[executionID]
	if !ok {
		e = &trackerEntry{TrackedExecution: TrackedExecution{ExecutionID: executionID}}
		t.entries[executionID] = e
	}
	e.Status = resp.Status
	r := resp
	e.Result = &r
	e.completedAt = now
	e.terminal = true
}

// get returns the tracked execution, or found=false when executionID is
// absent (never tracked, or already pruned past its TTL).
func (t *tracker) get(executionID string) (TrackedExecution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[executionID]
	if !ok {
		return TrackedExecution{}, false
	}
	return e.TrackedExecution, true
}

// sweep removes every terminal entry whose TTL has elapsed as of now.
func (t *tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if e.terminal && now.Sub(e.completedAt) > t.ttl {
			delete(t.entries, id)
		}
	}
}

// count reports the number of tracked entries, for tests and
// control-plane introspection.
func (t *tracker) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
