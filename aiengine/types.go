// File: aiengine/types.go
// Author: momentics <momentics@gmail.com>
//
// Package aiengine implements C6: normalize_cchat_session, the backend
// registry, the four-step router, and the stub/OpenAI-HTTP/OpenAI-
// realtime adapters. Grounded on flowersec-go/rpc/typed's JSON-boundary
// marshal/unmarshal shape for the canonical envelopes, and on
// flowersec-go/fserrors/classify.go's stable-code-from-heterogeneous-
// cause pattern for CanonicalError construction (classify.go here).
package aiengine

import (
	"context"

	"github.com/lfedgeai/spearlet-core/api"
)

// Capabilities describes what a backend adapter can serve; the router
// filters candidates against a request's Requirements using this.
type Capabilities struct {
	Ops        []string
	Features   []string
	Transports []string
}

func contains(set []string, want string) bool {
	for _, v := range set {
		if v == want {
			return true
		}
	}
	return false
}

func subsetOf(need, have []string) bool {
	for _, n := range need {
		if !contains(have, n) {
			return false
		}
	}
	return true
}

// BackendAdapter is the narrow interface every concrete backend
// implements (spec §4.6.4): stub, OpenAI-compatible HTTP, OpenAI
// realtime WS.
type BackendAdapter interface {
	Name() string
	Capabilities() Capabilities
	Invoke(ctx context.Context, req api.CanonicalRequestEnvelope) (api.CanonicalResponseEnvelope, error)
}

// CredentialConfig is one `[[llm.credentials]]` entry.
type CredentialConfig struct {
	Name      string
	Kind      string
	APIKeyEnv string
}

// BackendConfig is one `[[llm.backends]]` entry.
type BackendConfig struct {
	Name          string
	Kind          string
	BaseURL       string
	CredentialRef string
	Model         string
	Ops           []string
	Features      []string
	Transports    []string
	Weight        int
	Priority      int
	DefaultModel  string
}

// Config is the parsed `[llm]` TOML tree (spec §6), handed in by
// config.LoadLLMConfig — aiengine owns the domain shape, config owns the
// TOML decoding, so aiengine never imports config.
type Config struct {
	DefaultPolicy string
	DefaultModel  string
	Credentials   []CredentialConfig
	Backends      []BackendConfig
}

// EnvLookup abstracts os.LookupEnv so registry construction is testable
// without mutating process environment.
type EnvLookup func(key string) (string, bool)
