// File: runtimeadapter/registry.go
// Author: momentics <momentics@gmail.com>
//
// Registry maps api.RuntimeKind to a live RuntimeAdapter, structurally
// satisfying functionservice.AdapterResolver without an import from
// runtimeadapter to functionservice — the same one-way duck-typing
// discipline used for hostcall.ChatInvoker (hostcall/host.go) and
// HostcallBinder (wasm.go).
package runtimeadapter

import "github.com/lfedgeai/spearlet-core/api"

// Registry is a static, build-once lookup from runtime kind to adapter.
// Not all three kinds need be present; Adapter reports ok=false for any
// kind the process wasn't configured with (e.g. no kubeconfig supplied).
type Registry struct {
	adapters map[api.RuntimeKind]RuntimeAdapter
}

// NewRegistry builds a Registry from the supplied kind->adapter pairs.
func NewRegistry(adapters map[api.RuntimeKind]RuntimeAdapter) *Registry {
	cp := make(map[api.RuntimeKind]RuntimeAdapter, len(adapters))
	for k, v := range adapters {
		if v != nil {
			cp[k] = v
		}
	}
	return &Registry{adapters: cp}
}

// Adapter implements functionservice.AdapterResolver.
func (r *Registry) Adapter(kind api.RuntimeKind) (RuntimeAdapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}
