package aiengine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func reqWithModel(t *testing.T, model string) api.CanonicalRequestEnvelope {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"model": model, "messages": []any{}})
	require.NoError(t, err)
	return api.CanonicalRequestEnvelope{Version: 1, RequestID: "r", Operation: api.OpChatCompletions, Payload: payload}
}

func TestRouterSelectsSingleCandidateWhenModelUnset(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{{Name: "stub-only", Kind: "stub"}}}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "")
	adapter, chosen, cerr := router.Select(&req)
	require.Nil(t, cerr)
	require.Equal(t, "stub-only", chosen.Name)
	require.Equal(t, "stub-only", adapter.Name())

	var payload chatCompletionPayload
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	require.Equal(t, "stub-model", payload.Model)
}

func TestRouterModelBindPicksPinnedBackendOverNullModel(t *testing.T) {
	// Scenario: backend A has no pinned model (model=null), backend B pins
	// "gemma3:1b". A request explicitly asking for "gemma3:1b" must bind
	// to B only.
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "backend-a", Kind: "stub"},
			{Name: "backend-b", Kind: "stub", Model: "gemma3:1b"},
		},
	}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "gemma3:1b")
	_, chosen, cerr := router.Select(&req)
	require.Nil(t, cerr)
	require.Equal(t, "backend-b", chosen.Name)
}

func TestRouterEmptyCandidateSetReturnsDiagnostics(t *testing.T) {
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "backend-b", Kind: "stub", Model: "gemma3:1b"},
		},
	}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "llama3:8b")
	_, _, cerr := router.Select(&req)
	require.NotNil(t, cerr)
	require.Equal(t, "NO_CANDIDATE_BACKEND", cerr.Code)
	require.Equal(t, 1, cerr.CandidatesChecked)
	require.Contains(t, cerr.AvailableModels, "gemma3:1b")
}

func TestRouterFiltersByRequiredFeature(t *testing.T) {
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "plain-stub", Kind: "stub"},
			{Name: "tool-stub", Kind: "stub", Features: []string{"supports_tools"}},
		},
	}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "")
	req.Requirements.Features = []string{"supports_tools"}
	_, chosen, cerr := router.Select(&req)
	require.Nil(t, cerr)
	require.Equal(t, "tool-stub", chosen.Name)
}

func TestRouterDenylistExcludesBackend(t *testing.T) {
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "backend-a", Kind: "stub"},
			{Name: "backend-b", Kind: "stub"},
		},
	}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "")
	req.Routing.Denylist = []string{"backend-a"}
	_, chosen, cerr := router.Select(&req)
	require.Nil(t, cerr)
	require.Equal(t, "backend-b", chosen.Name)
}

func TestRouterBackendPinTakesExactMatch(t *testing.T) {
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "backend-a", Kind: "stub"},
			{Name: "backend-b", Kind: "stub"},
		},
	}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "")
	req.Routing.Backend = "backend-b"
	_, chosen, cerr := router.Select(&req)
	require.Nil(t, cerr)
	require.Equal(t, "backend-b", chosen.Name)
}

func TestRouterDisagreeingDefaultModelsFail(t *testing.T) {
	cfg := Config{
		Backends: []BackendConfig{
			{Name: "backend-a", Kind: "stub", DefaultModel: "model-a"},
			{Name: "backend-b", Kind: "stub", DefaultModel: "model-b"},
		},
	}
	reg := BuildRegistry(cfg, fixedEnv(nil))
	router := NewRouter(reg, "")

	req := reqWithModel(t, "")
	_, _, cerr := router.Select(&req)
	require.NotNil(t, cerr)
	require.Equal(t, "INVALID_CONFIGURATION", cerr.Code)
}
