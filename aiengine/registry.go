// File: aiengine/registry.go
// Author: momentics <momentics@gmail.com>
//
// Backend registry (spec §4.6.2): built once from configuration at
// startup, immutable afterward. A backend is enabled iff its
// credential_ref (when set) resolves to a known credential whose env
// var is present in the process environment; otherwise it is skipped
// with a structured warning. Credential values never leave this file.
package aiengine

import (
	"fmt"
)

type registeredBackend struct {
	cfg     BackendConfig
	adapter BackendAdapter
}

// Registry is the immutable, built-once set of enabled backends.
type Registry struct {
	backends []registeredBackend
	warnings []string
}

// BuildRegistry resolves cfg.Backends against cfg.Credentials and
// envLookup, constructing an adapter for each enabled backend. Disabled
// backends are recorded only as a name + reason in Warnings — never with
// the credential_ref's resolved value.
func BuildRegistry(cfg Config, envLookup EnvLookup) *Registry {
	credentials := make(map[string]CredentialConfig, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		credentials[c.Name] = c
	}

	reg := &Registry{}
	for _, b := range cfg.Backends {
		apiKey, ok, warning := resolveCredential(b, credentials, envLookup)
		if !ok {
			reg.warnings = append(reg.warnings, fmt.Sprintf("backend %q disabled: %s", b.Name, warning))
			continue
		}

		adapter, err := newAdapter(b, apiKey)
		if err != nil {
			reg.warnings = append(reg.warnings, fmt.Sprintf("backend %q disabled: %s", b.Name, err.Error()))
			continue
		}
		reg.backends = append(reg.backends, registeredBackend{cfg: b, adapter: adapter})
	}
	return reg
}

// resolveCredential returns the resolved API key (empty for backends
// that need none) and whether the backend may be enabled.
func resolveCredential(b BackendConfig, credentials map[string]CredentialConfig, envLookup EnvLookup) (apiKey string, ok bool, reason string) {
	if b.CredentialRef == "" {
		return "", true, ""
	}
	cred, found := credentials[b.CredentialRef]
	if !found {
		return "", false, fmt.Sprintf("credential_ref %q is not declared", b.CredentialRef)
	}
	value, present := envLookup(cred.APIKeyEnv)
	if !present || value == "" {
		return "", false, fmt.Sprintf("credential %q's env var %q is not set", cred.Name, cred.APIKeyEnv)
	}
	return value, true, ""
}

func newAdapter(b BackendConfig, apiKey string) (BackendAdapter, error) {
	switch b.Kind {
	case "stub":
		return newStubAdapter(b), nil
	case "openai":
		return newOpenAIHTTPAdapter(b, apiKey), nil
	case "openai_realtime":
		return newOpenAIRealtimeAdapter(b, apiKey), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", b.Kind)
	}
}

// Candidates returns every enabled backend, for the router to filter.
func (r *Registry) Candidates() []registeredBackend {
	return r.backends
}

// Warnings returns the structured skip reasons recorded during build,
// safe to log in full (never contains a resolved credential value).
func (r *Registry) Warnings() []string {
	return r.warnings
}

// AvailableModels lists the distinct non-empty models served by enabled
// backends, used in NoCandidateBackend diagnostics.
func (r *Registry) AvailableModels() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range r.backends {
		if b.cfg.Model == "" {
			continue
		}
		if _, dup := seen[b.cfg.Model]; dup {
			continue
		}
		seen[b.cfg.Model] = struct{}{}
		out = append(out, b.cfg.Model)
	}
	return out
}
