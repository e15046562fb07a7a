// File: aiengine/normalize.go
// Author: momentics <momentics@gmail.com>
//
// normalize_cchat_session (spec §4.6.1): turns a ChatSession snapshot
// into a backend-agnostic CanonicalRequestEnvelope.
package aiengine

import (
	"encoding/json"

	"github.com/lfedgeai/spearlet-core/api"
)

// chatCompletionPayload is the canonical OpenAI-shaped request body the
// envelope's Payload carries for operation=chat_completions.
type chatCompletionPayload struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

// Normalize builds a CanonicalRequestEnvelope from a chat session
// snapshot. Model resolution precedence (session param > backend default
// model > global default model > "stub-model" for a stub backend) spans
// a candidate set that doesn't exist yet at normalize time, so Normalize
// only fills in the session-level override; Router.Select resolves the
// remaining precedence once candidates are known.
func Normalize(requestID string, snapshot api.ChatSessionSnapshot) (api.CanonicalRequestEnvelope, error) {
	model, _ := snapshot.Params["model"].(string)

	payload := chatCompletionPayload{
		Model:    model,
		Messages: make([]chatMessage, 0, len(snapshot.Messages)),
	}
	for _, m := range snapshot.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	for _, tool := range snapshot.Tools {
		payload.Tools = append(payload.Tools, chatTool{Type: "function", Function: tool.Schema})
	}
	if rf, ok := snapshot.Params["response_format"]; ok {
		if raw, err := json.Marshal(rf); err == nil {
			payload.ResponseFormat = raw
		}
	}
	if stream, ok := snapshot.Params["stream"].(bool); ok {
		payload.Stream = stream
	}

	requirements := api.Requirements{}
	if len(snapshot.Tools) > 0 {
		requirements.Features = append(requirements.Features, "supports_tools")
	}
	if isJSONSchemaFormat(snapshot.Params["response_format"]) {
		requirements.Features = append(requirements.Features, "supports_json_schema")
	}

	routing := api.RoutingHints{}
	if backend, ok := snapshot.Params["backend"].(string); ok {
		routing.Backend = backend
	}
	if allow, ok := snapshot.Params["allowlist"].([]any); ok {
		routing.Allowlist = toStringSlice(allow)
	}
	if deny, ok := snapshot.Params["denylist"].([]any); ok {
		routing.Denylist = toStringSlice(deny)
	}

	policy, _ := snapshot.Params["policy_override"].(string)

	body, err := json.Marshal(payload)
	if err != nil {
		return api.CanonicalRequestEnvelope{}, api.NewError(api.KindInternal, "SERIALIZATION_ERROR", "failed to marshal chat payload").WithContext("cause", err.Error())
	}

	return api.CanonicalRequestEnvelope{
		Version:      1,
		RequestID:    requestID,
		Operation:    api.OpChatCompletions,
		Routing:      routing,
		Requirements: requirements,
		Policy:       policy,
		Payload:      body,
	}, nil
}

func isJSONSchemaFormat(v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var rf struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &rf); err != nil {
		return false
	}
	return rf.Type == "json_schema"
}

func toStringSlice(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
