// File: config/llm.go
// Author: momentics <momentics@gmail.com>
//
// LoadLLMConfig parses the `[llm]` / `[[llm.credentials]]` /
// `[[llm.backends]]` TOML tree (spec §6) into an aiengine.Config, using
// go-toml/v2's strict decoding to reject unknown fields under
// `[[llm.backends]]` — notably a stray `api_key_env` placed directly on
// a backend instead of under `[[llm.credentials]]`. go-toml/v2 has no
// usage precedent anywhere in the retrieval pack beyond incidental
// go.mod manifest entries, so this is written from the library's own
// documented Decoder API — the same honest exception already recorded
// for hostcall/bind.go's wazero usage and channel/grpc.go's raw codec.
package config

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"

	"github.com/lfedgeai/spearlet-core/aiengine"
)

// llmCredentialDoc mirrors one `[[llm.credentials]]` entry.
type llmCredentialDoc struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"`
	APIKeyEnv string `toml:"api_key_env"`
}

// llmBackendDoc mirrors one `[[llm.backends]]` entry. It deliberately
// does NOT declare an api_key_env field — strict decoding rejects that
// field if present here, per spec §6's explicit rejection rule.
type llmBackendDoc struct {
	Name          string   `toml:"name"`
	Kind          string   `toml:"kind"`
	BaseURL       string   `toml:"base_url"`
	CredentialRef string   `toml:"credential_ref"`
	Model         string   `toml:"model"`
	Ops           []string `toml:"ops"`
	Features      []string `toml:"features"`
	Transports    []string `toml:"transports"`
	Weight        int      `toml:"weight"`
	Priority      int      `toml:"priority"`
	DefaultModel  string   `toml:"default_model"`
}

// llmDoc mirrors the full `[llm]` tree.
type llmDoc struct {
	LLM struct {
		DefaultPolicy string              `toml:"default_policy"`
		DefaultModel  string              `toml:"default_model"`
		Credentials   []llmCredentialDoc  `toml:"credentials"`
		Backends      []llmBackendDoc     `toml:"backends"`
	} `toml:"llm"`
}

// LoadLLMConfig parses r's TOML content into an aiengine.Config,
// rejecting any unknown field anywhere in the document.
func LoadLLMConfig(r io.Reader) (aiengine.Config, error) {
	var doc llmDoc
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return aiengine.Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	cfg := aiengine.Config{
		DefaultPolicy: doc.LLM.DefaultPolicy,
		DefaultModel:  doc.LLM.DefaultModel,
	}
	for _, c := range doc.LLM.Credentials {
		cfg.Credentials = append(cfg.Credentials, aiengine.CredentialConfig{
			Name:      c.Name,
			Kind:      c.Kind,
			APIKeyEnv: c.APIKeyEnv,
		})
	}
	for _, b := range doc.LLM.Backends {
		cfg.Backends = append(cfg.Backends, aiengine.BackendConfig{
			Name:          b.Name,
			Kind:          b.Kind,
			BaseURL:       b.BaseURL,
			CredentialRef: b.CredentialRef,
			Model:         b.Model,
			Ops:           b.Ops,
			Features:      b.Features,
			Transports:    b.Transports,
			Weight:        b.Weight,
			Priority:      b.Priority,
			DefaultModel:  b.DefaultModel,
		})
	}
	return cfg, nil
}

// LoadLLMConfigBytes is a convenience wrapper over LoadLLMConfig for
// callers holding the document already in memory (e.g. a config file
// read elsewhere in the process).
func LoadLLMConfigBytes(data []byte) (aiengine.Config, error) {
	return LoadLLMConfig(bytes.NewReader(data))
}
