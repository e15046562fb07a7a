// File: functionservice/invoke.go
// Author: momentics <momentics@gmail.com>
//
// InvokeFunction's three execution-mode branches (spec §4.7): sync
// dispatches inline and returns a terminal ExecutionResponse; async
// allocates an execution id, records Pending, and spawns a detached
// dispatch; stream is rejected with guidance to use the streaming RPC
// path. GetExecutionStatus reads the tracker directly.
package functionservice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lfedgeai/spearlet-core/api"
)

// InvokeFunction validates req.ExecutionMode and dispatches accordingly.
func (s *Service) InvokeFunction(ctx context.Context, req api.ExecutionRequest) (InvokeResponse, error) {
	switch req.ExecutionMode {
	case api.ExecStream:
		return InvokeResponse{}, ErrStreamNotSupported
	case api.ExecAsync:
		return s.invokeAsync(req)
	default:
		return s.invokeSync(ctx, req)
	}
}

// invokeSync dispatches req against the task's pool inline, folding any
// dispatch failure into a Failed ExecutionResponse rather than a Go
// error — per spec §4.7, "Errors -> Failed".
func (s *Service) invokeSync(ctx context.Context, req api.ExecutionRequest) (InvokeResponse, error) {
	start := time.Now()
	pool, err := s.poolFor(ctx, req.TaskID)
	if err != nil {
		s.metrics.ObserveDispatch(req.TaskID, api.ExecFailed.String())
		return InvokeResponse{Result: failedResponse(req, err)}, nil
	}

	resp, err := pool.Dispatch(ctx, req, s.cfg.MaxDispatchAttempts)
	s.metrics.ObserveExecutionDuration(req.ExecutionMode.String(), float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.metrics.ObserveDispatch(req.TaskID, api.ExecFailed.String())
		return InvokeResponse{Result: failedResponse(req, err)}, nil
	}
	s.metrics.ObserveDispatch(req.TaskID, resp.Status.String())
	return InvokeResponse{Result: &resp}, nil
}

// invokeAsync allocates an execution id, records it Pending, and spawns
// a detached goroutine to resolve the pool and dispatch — the caller's
// ctx is not propagated to the background dispatch since it may be
// canceled well before the execution completes.
func (s *Service) invokeAsync(req api.ExecutionRequest) (InvokeResponse, error) {
	executionID := uuid.NewString()
	startedAt := time.Now()
	estimate := s.cfg.DefaultEstimatedMs

	s.tracker.recordPending(executionID, startedAt, estimate)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAsyncDispatch(executionID, req)
	}()

	return InvokeResponse{
		ExecutionID:           executionID,
		Status:                api.ExecPending,
		StatusEndpoint:        s.cfg.StatusEndpointPrefix + executionID,
		EstimatedCompletionMs: estimate,
	}, nil
}

func (s *Service) runAsyncDispatch(executionID string, req api.ExecutionRequest) {
	bgCtx := context.Background()
	start := time.Now()
	s.tracker.markRunning(executionID)

	pool, err := s.poolFor(bgCtx, req.TaskID)
	if err != nil {
		s.metrics.ObserveDispatch(req.TaskID, api.ExecFailed.String())
		s.tracker.complete(executionID, time.Now(), *failedResponse(req, err))
		return
	}

	resp, err := pool.Dispatch(bgCtx, req, s.cfg.MaxDispatchAttempts)
	s.metrics.ObserveExecutionDuration(req.ExecutionMode.String(), float64(time.Since(start).Milliseconds()))
	if err != nil {
		resp = *failedResponse(req, err)
	}
	s.metrics.ObserveDispatch(req.TaskID, resp.Status.String())
	s.tracker.complete(executionID, time.Now(), resp)
}

// GetExecutionStatus reads the tracker for executionID, returning
// found=false when absent (never tracked, or pruned past its TTL).
func (s *Service) GetExecutionStatus(executionID string) (TrackedExecution, bool) {
	return s.tracker.get(executionID)
}

func failedResponse(req api.ExecutionRequest, err error) *api.ExecutionResponse {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		apiErr = api.NewError(api.KindPermanent, "DISPATCH_FAILED", err.Error())
	}
	return &api.ExecutionResponse{
		RequestID:     req.RequestID,
		Status:        api.ExecFailed,
		ExecutionMode: req.ExecutionMode,
		CompletedMs:   time.Now().UnixMilli(),
		Error:         apiErr,
	}
}
