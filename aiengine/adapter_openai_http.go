// File: aiengine/adapter_openai_http.go
// Author: momentics <momentics@gmail.com>
//
// OpenAI-compatible HTTP adapter (spec §4.6.4): POST
// {base_url}/chat/completions with a Bearer token resolved via
// credential_ref -> env var, returning the upstream body as Raw and,
// with the _spear.backend/_spear.model fields added, as Result. No HTTP
// client library appears anywhere in the retrieval pack, so this uses
// net/http directly (see DESIGN.md's stdlib exception for this file).
package aiengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

type openAIHTTPAdapter struct {
	cfg    BackendConfig
	apiKey string
	client *http.Client
}

func newOpenAIHTTPAdapter(cfg BackendConfig, apiKey string) *openAIHTTPAdapter {
	return &openAIHTTPAdapter{cfg: cfg, apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *openAIHTTPAdapter) Name() string { return a.cfg.Name }

func (a *openAIHTTPAdapter) Capabilities() Capabilities {
	return Capabilities{Ops: a.cfg.Ops, Features: a.cfg.Features, Transports: a.cfg.Transports}
}

func (a *openAIHTTPAdapter) Invoke(ctx context.Context, req api.CanonicalRequestEnvelope) (api.CanonicalResponseEnvelope, error) {
	url := a.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return api.CanonicalResponseEnvelope{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return api.CanonicalResponseEnvelope{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.CanonicalResponseEnvelope{}, err
	}
	latency := time.Since(start)

	if resp.StatusCode >= 300 {
		return api.CanonicalResponseEnvelope{}, &httpStatusError{StatusCode: resp.StatusCode, Body: truncateForError(body)}
	}

	var parsed struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &parsed)

	result := withSpearFields(json.RawMessage(body), a.cfg.Name, parsed.Model)
	return api.CanonicalResponseEnvelope{
		RequestID: req.RequestID,
		Operation: req.Operation,
		Backend:   api.BackendRef{Name: a.cfg.Name, LatencyMs: latency.Milliseconds(), Attempts: 1},
		Result:    result,
		Raw:       body,
	}, nil
}

// truncateForError caps the body excerpt attached to httpStatusError so
// an oversized upstream error page never balloons a CanonicalError.
func truncateForError(body []byte) string {
	const max = 512
	if len(body) > max {
		return fmt.Sprintf("%s... (truncated)", body[:max])
	}
	return string(body)
}
