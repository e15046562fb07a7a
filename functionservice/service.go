// File: functionservice/service.go
// Author: momentics <momentics@gmail.com>
//
// Service is the C7 facade: one call-in point (InvokeFunction) that
// resolves a task, lazily constructs its pool, and dispatches sync or
// async per spec §4.7. Grounded on facade/hioload.go's New/Start/Stop/
// Shutdown and subsystem-field-wiring shape.
package functionservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/taskpool"
)

// Config parameterizes the service's pool sizing and tracker retention.
type Config struct {
	PendingCap              int
	MaxDispatchAttempts     int
	TrackerTTL              time.Duration
	TrackerSweepInterval    time.Duration
	StatusEndpointPrefix    string
	DefaultEstimatedMs      int64
}

// DefaultConfig mirrors the spec's stated defaults for tracker retention
// and dispatch retries.
func DefaultConfig() Config {
	return Config{
		PendingCap:           256,
		MaxDispatchAttempts:  3,
		TrackerTTL:           10 * time.Minute,
		TrackerSweepInterval: 30 * time.Second,
		StatusEndpointPrefix: "/status/",
		DefaultEstimatedMs:   5000,
	}
}

// Service owns the per-task pool registry, a TaskResolver/AdapterResolver
// pair (external collaborators per spec §4.7), and the execution tracker.
type Service struct {
	cfg      Config
	resolver TaskResolver
	adapters AdapterResolver

	mu    sync.Mutex
	pools map[string]*taskpool.Pool

	tracker *tracker

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	metrics MetricsRecorder
}

// MetricsRecorder is the narrow metrics seam Service reports through;
// *control.PromExporter satisfies it structurally, so functionservice
// never imports control.
type MetricsRecorder interface {
	ObserveDispatch(task, status string)
	ObserveExecutionDuration(mode string, durationMs float64)
	SetTrackerEntries(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDispatch(string, string)             {}
func (noopMetrics) ObserveExecutionDuration(string, float64)   {}
func (noopMetrics) SetTrackerEntries(int)                      {}

// New constructs a Service. Start must be called before InvokeFunction
// is used so the tracker's TTL sweep loop runs.
func New(cfg Config, resolver TaskResolver, adapters AdapterResolver) *Service {
	if cfg.MaxDispatchAttempts < 1 {
		cfg.MaxDispatchAttempts = 1
	}
	return &Service{
		cfg:      cfg,
		resolver: resolver,
		adapters: adapters,
		pools:    make(map[string]*taskpool.Pool),
		tracker:  newTracker(cfg.TrackerTTL),
		stopCh:   make(chan struct{}),
		metrics:  noopMetrics{},
	}
}

// WithMetrics attaches a MetricsRecorder (e.g. *control.PromExporter)
// for dispatch/tracker observability.
func (s *Service) WithMetrics(m MetricsRecorder) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Start launches the tracker's background TTL sweep loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runSweepLoop()
	return nil
}

func (s *Service) runSweepLoop() {
	defer s.wg.Done()
	interval := s.cfg.TrackerSweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tracker.sweep(now)
			s.metrics.SetTrackerEntries(s.tracker.count())
		}
	}
}

// Stop halts the tracker sweep loop. It does not stop already-running
// pools — callers that also own pool lifecycle should stop pools
// themselves via whatever registered them.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// Shutdown is an alias for Stop, matching the teacher's facade surface.
func (s *Service) Shutdown() error {
	return s.Stop()
}

// poolFor returns the pool for taskID, lazily resolving the task and
// constructing the pool (and starting it) on first use.
func (s *Service) poolFor(ctx context.Context, taskID string) (*taskpool.Pool, error) {
	s.mu.Lock()
	if p, ok := s.pools[taskID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	task, err := s.resolver.ResolveTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("resolve task %q: %w", taskID, err)
	}

	adapter, ok := s.adapters.Adapter(task.Spec.RuntimeKind)
	if !ok {
		return nil, ErrUnknownRuntimeKind
	}

	instCfg := instanceConfigFor(task.Spec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[taskID]; ok {
		return p, nil
	}
	p := taskpool.NewPool(task.Spec, adapter, instCfg, s.cfg.PendingCap)
	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pool for task %q: %w", taskID, err)
	}
	s.pools[taskID] = p
	return p, nil
}

// instanceConfigFor derives an InstanceConfig from a task's stable spec.
func instanceConfigFor(spec api.TaskSpec) api.InstanceConfig {
	runtimeConfig := make(map[string]string, len(spec.HandlerConfig)+1)
	for k, v := range spec.HandlerConfig {
		runtimeConfig[k] = v
	}
	runtimeConfig["entry_point"] = spec.EntryPoint

	return api.InstanceConfig{
		RuntimeKind:           spec.RuntimeKind,
		RuntimeConfig:         runtimeConfig,
		Environment:           spec.Environment,
		MaxConcurrentRequests: uint32(spec.TargetConcurrency),
		RequestTimeoutMs:      spec.TimeoutConfig.RequestTimeoutMs,
	}
}
