package aiengine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func TestEngineInvokeChatRoundTripsThroughStub(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{{Name: "stub-fallback", Kind: "stub"}}}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	engine := NewEngine(reg, "")

	snapshot := api.ChatSessionSnapshot{
		Messages: []api.ChatMessage{{Role: "user", Content: "ping"}},
	}
	resp, err := engine.InvokeChat(context.Background(), snapshot)
	require.NoError(t, err)
	require.Nil(t, resp.Err)
	require.Equal(t, "stub-fallback", resp.Backend.Name)

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Contains(t, result, "_spear.backend")
}

func TestEngineInvokeChatReturnsCanonicalErrorOnEmptyRegistry(t *testing.T) {
	reg := BuildRegistry(Config{}, fixedEnv(nil))
	engine := NewEngine(reg, "")

	snapshot := api.ChatSessionSnapshot{Messages: []api.ChatMessage{{Role: "user", Content: "ping"}}}
	resp, err := engine.InvokeChat(context.Background(), snapshot)
	require.NoError(t, err)
	require.NotNil(t, resp.Err)
	require.Equal(t, "NO_CANDIDATE_BACKEND", resp.Err.Code)
}
