// File: api/envelope.go
// Author: momentics <momentics@gmail.com>
//
// Canonical request/response envelopes exchanged between the AI engine's
// Normalize/Route stages and its backend adapters (spec §3, §4.6).

package api

import "encoding/json"

// Operation enumerates the canonical LLM operations the router can dispatch.
type Operation string

const (
	OpChatCompletions Operation = "chat_completions"
	OpEmbeddings      Operation = "embeddings"
	OpImageGeneration Operation = "image_generation"
	OpSpeechToText    Operation = "speech_to_text"
	OpTextToSpeech    Operation = "text_to_speech"
	OpRealtimeVoice   Operation = "realtime_voice"
)

// RoutingHints carries the routing overrides a normalized request may
// request, bounded by host policy before they reach the router.
type RoutingHints struct {
	Backend   string   `json:"backend,omitempty"`
	Allowlist []string `json:"allowlist,omitempty"`
	Denylist  []string `json:"denylist,omitempty"`
}

// Requirements is the capability set a candidate backend must satisfy.
type Requirements struct {
	Features   []string `json:"features,omitempty"`
	Transports []string `json:"transports,omitempty"`
}

// CanonicalRequestEnvelope is the backend-agnostic request produced by
// Normalize and consumed by the Router and adapters.
type CanonicalRequestEnvelope struct {
	Version      int             `json:"version"`
	RequestID    string          `json:"request_id"`
	Operation    Operation       `json:"operation"`
	Routing      RoutingHints    `json:"routing,omitempty"`
	Requirements Requirements    `json:"requirements,omitempty"`
	Policy       string          `json:"policy,omitempty"`
	TimeoutMs    uint64          `json:"timeout_ms,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// BackendRef identifies the backend instance that served a request.
type BackendRef struct {
	Name      string `json:"name"`
	Instance  string `json:"instance,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Attempts  int    `json:"attempts"`
}

// CanonicalResponseEnvelope is the backend-agnostic response returned by
// an adapter's Invoke and unpacked back into hostcall responses.
type CanonicalResponseEnvelope struct {
	RequestID string          `json:"request_id"`
	Operation Operation       `json:"operation"`
	Backend   BackendRef      `json:"backend"`
	Result    json.RawMessage `json:"result,omitempty"`
	Err       *CanonicalError `json:"error,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// CanonicalError is the structured error the router and adapters attach
// to a failed CanonicalResponseEnvelope (spec §7).
type CanonicalError struct {
	Error
	Operation         Operation `json:"operation,omitempty"`
	Required          []string  `json:"required,omitempty"`
	CandidatesChecked int       `json:"candidates_checked,omitempty"`
	RejectedReasons   []string  `json:"rejected_reasons,omitempty"`
	AvailableModels   []string  `json:"available_models,omitempty"`
}
