package runtimeadapter_test

import (
	"testing"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

func newTestInstance() *runtimeadapter.Instance {
	id := api.RuntimeInstanceId{Kind: api.RuntimeProcess, Instance: "test"}
	return runtimeadapter.NewInstance(id, api.InstanceConfig{})
}

func TestInstanceStartsInStarting(t *testing.T) {
	inst := newTestInstance()
	if inst.Status() != api.StatusStarting {
		t.Fatalf("expected Starting, got %v", inst.Status())
	}
}

func TestInstanceStartingToReady(t *testing.T) {
	inst := newTestInstance()
	if err := inst.MarkReady(); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}
	if inst.Status() != api.StatusReady {
		t.Fatalf("expected Ready, got %v", inst.Status())
	}
}

func TestInstanceReadyToDrainingToStopped(t *testing.T) {
	inst := newTestInstance()
	_ = inst.MarkReady()

	if err := inst.MarkDraining(); err != nil {
		t.Fatalf("MarkDraining failed: %v", err)
	}
	if inst.Status() != api.StatusDraining {
		t.Fatalf("expected Draining, got %v", inst.Status())
	}

	if err := inst.MarkStopped(); err != nil {
		t.Fatalf("MarkStopped failed: %v", err)
	}
	if inst.Status() != api.StatusStopped {
		t.Fatalf("expected Stopped, got %v", inst.Status())
	}
}

func TestInstanceCannotGoDrainingWithoutReady(t *testing.T) {
	inst := newTestInstance()
	if err := inst.MarkDraining(); err == nil {
		t.Fatal("expected error transitioning Starting -> Draining directly")
	}
}

func TestInstanceErrorReachableFromAnyState(t *testing.T) {
	inst := newTestInstance()
	inst.MarkError("boom")
	if inst.Status() != api.StatusError {
		t.Fatalf("expected Error, got %v", inst.Status())
	}
	if inst.ErrorReason() != "boom" {
		t.Fatalf("expected reason 'boom', got %q", inst.ErrorReason())
	}
}

func TestRecordProbeTwoFailuresMarksUnhealthy(t *testing.T) {
	inst := newTestInstance()
	_ = inst.MarkReady()

	inst.RecordProbe(runtimeadapter.HealthStatus{Healthy: false, Reason: "timeout"})
	if inst.Status() == api.StatusUnhealthy {
		t.Fatal("should not be Unhealthy after a single failure")
	}

	inst.RecordProbe(runtimeadapter.HealthStatus{Healthy: false, Reason: "timeout"})
	if inst.Status() != api.StatusUnhealthy {
		t.Fatalf("expected Unhealthy after two consecutive failures, got %v", inst.Status())
	}
}

func TestRecordProbeSuccessResetsStreak(t *testing.T) {
	inst := newTestInstance()
	_ = inst.MarkReady()

	inst.RecordProbe(runtimeadapter.HealthStatus{Healthy: false})
	inst.RecordProbe(runtimeadapter.HealthStatus{Healthy: true})
	inst.RecordProbe(runtimeadapter.HealthStatus{Healthy: false})
	if inst.Status() == api.StatusUnhealthy {
		t.Fatal("a success should reset the consecutive-failure streak")
	}
}

func TestTouchTracksActiveRequestsAndAverage(t *testing.T) {
	inst := newTestInstance()
	inst.Touch(1, 0)
	if inst.Metrics().ActiveRequests != 1 {
		t.Fatalf("expected ActiveRequests=1, got %d", inst.Metrics().ActiveRequests)
	}
	inst.Touch(-1, 100)
	m := inst.Metrics()
	if m.ActiveRequests != 0 {
		t.Fatalf("expected ActiveRequests=0, got %d", m.ActiveRequests)
	}
	if m.TotalRequests != 1 || m.AvgRequestTimeMs != 100 {
		t.Fatalf("unexpected metrics after completion: %+v", m)
	}
}
