package aiengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func TestStubAdapterEchoesLastUserMessage(t *testing.T) {
	adapter := newStubAdapter(BackendConfig{Name: "stub-fallback"})

	payload, err := json.Marshal(map[string]any{
		"model": "stub-model",
		"messages": []any{
			map[string]any{"role": "system", "content": "be terse"},
			map[string]any{"role": "user", "content": "what is 2+2"},
		},
	})
	require.NoError(t, err)

	resp, err := adapter.Invoke(context.Background(), api.CanonicalRequestEnvelope{RequestID: "r-1", Operation: api.OpChatCompletions, Payload: payload})
	require.NoError(t, err)

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		SpearBackend string `json:"_spear.backend"`
		SpearModel   string `json:"_spear.model"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Contains(t, result.Choices[0].Message.Content, "what is 2+2")
	require.Equal(t, "stub-fallback", result.SpearBackend)
	require.Equal(t, "stub-model", result.SpearModel)
}

func TestWithSpearFieldsFallsBackOnInvalidJSON(t *testing.T) {
	body := json.RawMessage(`not json`)
	out := withSpearFields(body, "backend", "model")
	require.Equal(t, body, out)
}
