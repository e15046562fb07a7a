// File: aiengine/adapter_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub backend adapter (spec §4.6.4): synthesizes an OpenAI-shaped chat
// completion without any outbound call, used for tests and as the
// "stub-model" sink.
package aiengine

import (
	"context"
	"encoding/json"

	"github.com/lfedgeai/spearlet-core/api"
)

type stubAdapter struct {
	cfg BackendConfig
}

func newStubAdapter(cfg BackendConfig) *stubAdapter { return &stubAdapter{cfg: cfg} }

func (a *stubAdapter) Name() string { return a.cfg.Name }

func (a *stubAdapter) Capabilities() Capabilities {
	return Capabilities{Ops: []string{string(api.OpChatCompletions)}}
}

func (a *stubAdapter) Invoke(ctx context.Context, req api.CanonicalRequestEnvelope) (api.CanonicalResponseEnvelope, error) {
	var incoming struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Model string `json:"model"`
	}
	_ = json.Unmarshal(req.Payload, &incoming)

	lastUser := "hello"
	for i := len(incoming.Messages) - 1; i >= 0; i-- {
		if incoming.Messages[i].Role == "user" {
			lastUser = incoming.Messages[i].Content
			break
		}
	}

	result, _ := json.Marshal(map[string]any{
		"id":      "stub-" + req.RequestID,
		"object":  "chat.completion",
		"model":   incoming.Model,
		"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": "stub reply to: " + lastUser}, "finish_reason": "stop"}},
	})

	return api.CanonicalResponseEnvelope{
		RequestID: req.RequestID,
		Operation: req.Operation,
		Backend:   api.BackendRef{Name: a.cfg.Name, Attempts: 1},
		Result:    withSpearFields(result, a.cfg.Name, incoming.Model),
	}, nil
}

// withSpearFields appends "_spear.backend"/"_spear.model" observability
// fields to a JSON object body, per spec §4.6.4.
func withSpearFields(body json.RawMessage, backend, model string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return body
	}
	backendJSON, _ := json.Marshal(backend)
	modelJSON, _ := json.Marshal(model)
	m["_spear.backend"] = backendJSON
	m["_spear.model"] = modelJSON
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}
