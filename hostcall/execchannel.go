// File: hostcall/execchannel.go
// Author: momentics <momentics@gmail.com>
//
// spear_exec_recv/spear_exec_send expose the instance's communication
// channel (C2) to the wasm guest so it can pull dispatched
// ExecutionRequests and push ExecutionResponses without a second
// transport. Bound only for the wasm runtime kind, where the guest has
// no other way to reach its in-memory channel half.
package hostcall

import (
	"encoding/json"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

// SpearExecRecv blocks until the next inbound channel message and copies
// its payload into out, following the ENOSPC contract.
func SpearExecRecv(ch channel.CommunicationChannel, out []byte) (n int, required int, rc int32) {
	msg, err := ch.Receive()
	if err != nil {
		return 0, 0, api.EIO
	}
	if len(out) < len(msg.Payload) {
		return 0, len(msg.Payload), api.ENOSPC
	}
	n = copy(out, msg.Payload)
	return n, n, 0
}

// SpearExecSend sends payload as a Response message correlated to
// requestID. payload must already be valid JSON (an ExecutionResponse).
func SpearExecSend(ch channel.CommunicationChannel, requestID string, payload []byte) int32 {
	if !json.Valid(payload) {
		return api.EINVAL
	}
	if err := ch.Send(channel.Message{Kind: channel.KindResponse, RequestID: requestID, Payload: payload}); err != nil {
		return api.EIO
	}
	return 0
}
