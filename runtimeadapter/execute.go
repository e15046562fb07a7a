// File: runtimeadapter/execute.go
// Author: momentics <momentics@gmail.com>
//
// executeOverChannel is the thin wrapper over an instance's channel that
// every adapter's Execute (process, kubernetes and wasm) delegates to (spec §4.3: "execute
// (instance, request) → response (thin wrapper over channel)").
package runtimeadapter

import (
	"encoding/json"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

func executeOverChannel(inst *Instance, req api.ExecutionRequest) (api.ExecutionResponse, error) {
	if inst.Channel == nil || !inst.Channel.IsConnected() {
		return api.ExecutionResponse{}, channel.ErrChannelClosed
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return api.ExecutionResponse{}, channel.ErrSerialization
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()
	inst.Touch(1, 0)
	defer func() { inst.Touch(-1, float64(time.Since(start).Milliseconds())) }()

	resp, err := inst.Channel.RequestResponse(channel.Message{
		Kind:      channel.KindRequest,
		RequestID: req.RequestID,
		Payload:   payload,
	}, timeout)
	if err != nil {
		return api.ExecutionResponse{}, err
	}

	var execResp api.ExecutionResponse
	if err := json.Unmarshal(resp.Payload, &execResp); err != nil {
		return api.ExecutionResponse{}, channel.ErrSerialization
	}
	return execResp, nil
}
