package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadLLMConfigParsesBackendsAndCredentials(t *testing.T) {
	doc := `
[llm]
default_policy = "weighted_random"
default_model = "gemma3:1b"

[[llm.credentials]]
name = "openai-key"
kind = "env"
api_key_env = "OPENAI_API_KEY"

[[llm.backends]]
name = "openai-primary"
kind = "openai"
base_url = "https://api.openai.com/v1"
credential_ref = "openai-key"
ops = ["chat_completions"]
weight = 2

[[llm.backends]]
name = "stub-fallback"
kind = "stub"
weight = 1
`
	cfg, err := LoadLLMConfigBytes([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "weighted_random", cfg.DefaultPolicy)
	require.Equal(t, "gemma3:1b", cfg.DefaultModel)
	require.Len(t, cfg.Credentials, 1)
	require.Equal(t, "OPENAI_API_KEY", cfg.Credentials[0].APIKeyEnv)
	require.Len(t, cfg.Backends, 2)
	require.Equal(t, "openai-primary", cfg.Backends[0].Name)
	require.Equal(t, 2, cfg.Backends[0].Weight)
}

func TestLoadLLMConfigRejectsStrayAPIKeyEnvOnBackend(t *testing.T) {
	doc := `
[llm]
default_policy = "weighted_random"

[[llm.backends]]
name = "openai-primary"
kind = "openai"
api_key_env = "OPENAI_API_KEY"
`
	_, err := LoadLLMConfigBytes([]byte(doc))
	require.Error(t, err)
}

func TestLoadLLMConfigRejectsUnknownTopLevelField(t *testing.T) {
	doc := `
[llm]
default_policy = "weighted_random"
unknown_field = "surprise"
`
	_, err := LoadLLMConfigBytes([]byte(doc))
	require.Error(t, err)
}
