package aiengine

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func TestOpenAIRealtimeAdapterProducesConnectionPlan(t *testing.T) {
	adapter := newOpenAIRealtimeAdapter(BackendConfig{Name: "openai-realtime", BaseURL: "wss://api.openai.com/v1/realtime", Model: "gpt-realtime"}, "sk-super-secret")

	resp, err := adapter.Invoke(context.Background(), api.CanonicalRequestEnvelope{RequestID: "r-1", Operation: api.OpRealtimeVoice, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	var plan ConnectionPlan
	require.NoError(t, json.Unmarshal(resp.Result, &plan))
	require.Equal(t, "wss://api.openai.com/v1/realtime", plan.URL)
	require.Contains(t, plan.Headers["Authorization"], "${env:")
	require.NotContains(t, plan.Headers["Authorization"], "sk-super-secret")
	require.Contains(t, plan.Subprotocols, "realtime")
}

func TestExpandEnvTemplateResolvesKnownVar(t *testing.T) {
	require.NoError(t, os.Setenv("AIENGINE_TEST_TOKEN", "resolved-value"))
	defer os.Unsetenv("AIENGINE_TEST_TOKEN")

	out := expandEnvTemplate("Bearer ${env:AIENGINE_TEST_TOKEN}")
	require.Equal(t, "Bearer resolved-value", out)
}

func TestExpandEnvTemplateLeavesUnknownVarEmpty(t *testing.T) {
	out := expandEnvTemplate("Bearer ${env:AIENGINE_TEST_TOKEN_UNSET}")
	require.Equal(t, "Bearer ", out)
}
