// File: api/backend.go
// Author: momentics <momentics@gmail.com>
//
// BackendInstance is the registry's unit of routing (spec §3, §4.6.2).

package api

// BackendCapabilities declares what a backend instance can serve.
type BackendCapabilities struct {
	Ops        []Operation
	Features   []string
	Transports []string
	Limits     map[string]int
}

// BackendInstance is a concrete external LLM endpoint selectable by the
// router. The registry is built once at startup and is immutable after.
type BackendInstance struct {
	Name          string
	Kind          string
	BaseURL       string
	CredentialRef string
	Capabilities  BackendCapabilities
	Model         string
	Weight        float64
	Priority      int
}

// HasOp reports whether the backend declares support for op.
func (b BackendInstance) HasOp(op Operation) bool {
	for _, o := range b.Capabilities.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// HasFeature reports whether the backend declares support for feature.
func (b BackendInstance) HasFeature(feature string) bool {
	for _, f := range b.Capabilities.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasTransport reports whether the backend declares support for transport.
func (b BackendInstance) HasTransport(transport string) bool {
	for _, t := range b.Capabilities.Transports {
		if t == transport {
			return true
		}
	}
	return false
}
