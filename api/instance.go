// File: api/instance.go
// Author: momentics <momentics@gmail.com>
//
// Instance configuration, lifecycle status, and runtime metrics shared
// between runtime adapters (C3), the task pool (C4), and the function
// service facade (C7).

package api

import "time"

// ResourceLimits bounds an instance's consumption. A zero value for a
// field means "no limit enforced by this engine" — the runtime adapter
// may still pass it through to the underlying platform (cgroup, pod spec).
type ResourceLimits struct {
	MaxCPUCores   float32
	MaxMemoryByte uint64
	MaxDiskByte   uint64
	MaxNetworkBps uint64
}

// NetworkConfig captures the network-isolation knobs a runtime adapter
// may apply; the set of fields actually honored is adapter-specific.
type NetworkConfig struct {
	Isolated   bool
	AllowHosts []string
}

// InstanceConfig fully describes how a runtime adapter should create and
// size an instance.
type InstanceConfig struct {
	RuntimeKind           RuntimeKind
	RuntimeConfig         map[string]string
	Environment           map[string]string
	ResourceLimits        ResourceLimits
	Network               NetworkConfig
	MaxConcurrentRequests uint32
	RequestTimeoutMs      uint64
}

// InstanceStatus enumerates the lifecycle states of an Instance.
type InstanceStatus int

const (
	StatusStarting InstanceStatus = iota
	StatusReady
	StatusDraining
	StatusError
	StatusUnhealthy
	StatusStopped
)

func (s InstanceStatus) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusReady:
		return "ready"
	case StatusDraining:
		return "draining"
	case StatusError:
		return "error"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// InstanceMetrics tracks the counters the dispatch policy (C4 §4.4) reads
// to pick a candidate instance.
type InstanceMetrics struct {
	ActiveRequests   int64
	TotalRequests    int64
	AvgRequestTimeMs float64
	LastActivity     time.Time
}

// AdapterCapabilities describes what a runtime adapter supports; the task
// pool consults it when deciding whether scaling or hot-reload is possible.
type AdapterCapabilities struct {
	Scalable               bool
	HotReload              bool
	PersistentStorage      bool
	NetworkIsolation       bool
	MaxConcurrentInstances int
	SupportedProtocols     []string
}
