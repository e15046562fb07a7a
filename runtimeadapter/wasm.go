// File: runtimeadapter/wasm.go
// Author: momentics <momentics@gmail.com>
//
// Wasm adapter (spec §4.3): validates module bytes, instantiates inside
// an embedded wazero engine, binds guest imports to the hostcall table,
// and pairs the instance with an in-memory channel. Grounded on
// other_examples' wasm-hosting shape for module instantiation, and on
// channel/inmem.go for the same-process transport.
package runtimeadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

// HostcallBinder binds the spearlet hostcall ABI (spec §4.5) into a
// wazero module builder, given the guest-facing end of the instance's
// in-memory channel. Implemented by package hostcall; accepted here as
// an interface to avoid an import cycle (hostcall depends on fdtable,
// not on runtimeadapter).
type HostcallBinder interface {
	Bind(ctx context.Context, rt wazero.Runtime, guestChannel channel.CommunicationChannel) (wazero.CompiledModule, error)
}

// WasmAdapter instantiates guest modules inside one shared wazero
// runtime, one module instance per spearlet Instance.
type WasmAdapter struct {
	runtime wazero.Runtime
	binder  HostcallBinder
}

// NewWasmAdapter constructs an adapter sharing a single wazero runtime
// (and its compilation cache) across every wasm instance it creates.
func NewWasmAdapter(ctx context.Context, binder HostcallBinder) (*WasmAdapter, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, api.NewError(api.KindInternal, "EIO", "failed to instantiate WASI").WithContext("cause", err.Error())
	}
	return &WasmAdapter{runtime: rt, binder: binder}, nil
}

type wasmState struct {
	module       wazero.CompiledModule
	hostModule   wazeroModule
	instance     wazeroModule
	guestChannel channel.CommunicationChannel
}

// wazeroModule is the subset of api.Module this adapter needs, kept
// narrow so tests can substitute a fake without dragging in wazero.
type wazeroModule interface {
	Close(ctx context.Context) error
}

// CreateInstance validates and compiles the module whose raw bytes are
// carried in cfg.RuntimeConfig["module_bytes"] (the adapter resolves no
// URI; the caller supplies the bytes), returning Starting.
func (a *WasmAdapter) CreateInstance(ctx context.Context, cfg api.InstanceConfig) (*Instance, error) {
	moduleBytes := []byte(cfg.RuntimeConfig["module_bytes"])
	if len(moduleBytes) == 0 {
		return nil, api.NewError(api.KindPermanent, "EINVAL", "wasm adapter requires runtime_config.module_bytes")
	}

	compiled, err := a.runtime.CompileModule(ctx, moduleBytes)
	if err != nil {
		return nil, api.NewError(api.KindPermanent, "EINVAL", "invalid wasm module").WithContext("cause", err.Error())
	}

	id := api.RuntimeInstanceId{Kind: api.RuntimeWasm, Instance: fmt.Sprintf("wasm-%d", time.Now().UnixNano())}
	host, guest := channel.NewInMemoryPair(id)

	inst := NewInstance(id, cfg)
	inst.Channel = host
	inst.AdapterState = &wasmState{module: compiled, guestChannel: guest}
	return inst, nil
}

// StartInstance binds the hostcall table to the guest channel, installs
// it as a host module the guest can import from, then instantiates the
// guest module; wazero's Instantiate call itself is the readiness probe
// (a module that traps on start never reaches Ready).
func (a *WasmAdapter) StartInstance(ctx context.Context, inst *Instance) error {
	ws := inst.AdapterState.(*wasmState)

	hostCompiled, err := a.binder.Bind(ctx, a.runtime, ws.guestChannel)
	if err != nil {
		return api.NewError(api.KindPermanent, "EIO", "failed to bind hostcall table").WithContext("cause", err.Error())
	}
	hostMod, err := a.runtime.InstantiateModule(ctx, hostCompiled, wazero.NewModuleConfig())
	if err != nil {
		return api.NewError(api.KindPermanent, "EIO", "failed to instantiate hostcall module").WithContext("cause", err.Error())
	}
	ws.hostModule = hostMod

	cfg := wazero.NewModuleConfig().WithName(inst.ID.Instance)
	mod, err := a.runtime.InstantiateModule(ctx, ws.module, cfg)
	if err != nil {
		return api.NewError(api.KindPermanent, "EIO", "failed to instantiate wasm module").WithContext("cause", err.Error())
	}
	ws.instance = mod
	return inst.MarkReady()
}

// StopInstance closes the guest module instance, the hostcall module,
// and the in-memory channel pair.
func (a *WasmAdapter) StopInstance(ctx context.Context, inst *Instance) error {
	ws := inst.AdapterState.(*wasmState)
	if ws.instance != nil {
		_ = ws.instance.Close(ctx)
	}
	if ws.hostModule != nil {
		_ = ws.hostModule.Close(ctx)
	}
	_ = ws.guestChannel.Close()
	if inst.Channel != nil {
		_ = inst.Channel.Close()
	}
	return inst.MarkStopped()
}

// HealthCheck for wasm instances is liveness of the in-memory channel:
// there is no separate process to probe.
func (a *WasmAdapter) HealthCheck(ctx context.Context, inst *Instance) HealthStatus {
	if inst.Channel == nil || !inst.Channel.IsConnected() {
		return HealthStatus{Healthy: false, Reason: "in-memory channel closed"}
	}
	return HealthStatus{Healthy: true}
}

// Execute is a thin wrapper over the instance's in-memory channel.
func (a *WasmAdapter) Execute(ctx context.Context, inst *Instance, req api.ExecutionRequest) (api.ExecutionResponse, error) {
	return executeOverChannel(inst, req)
}

// Capabilities describes the wasm adapter's operating envelope.
func (a *WasmAdapter) Capabilities() api.AdapterCapabilities {
	return api.AdapterCapabilities{
		Scalable:               true,
		HotReload:              true,
		PersistentStorage:      false,
		NetworkIsolation:       true,
		MaxConcurrentInstances: 4096,
		SupportedProtocols:     []string{"inmem"},
	}
}

// Close releases the shared wazero runtime; call once at process
// shutdown after every wasm instance has been stopped.
func (a *WasmAdapter) Close(ctx context.Context) error {
	return a.runtime.Close(ctx)
}
