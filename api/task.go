// File: api/task.go
// Author: momentics <momentics@gmail.com>
//
// Task and artifact descriptors (spec §3) — the deployable-function side
// of the data model, as opposed to the live Instance side in instance.go.

package api

import "time"

// InvocationType enumerates how a task expects to be invoked.
type InvocationType int

const (
	InvocationSync InvocationType = iota
	InvocationAsync
	InvocationStream
)

// ScalingConfig parameterizes the task pool's scaling loop (§4.4).
type ScalingConfig struct {
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	ConsecutiveTicks   int
	CooldownMs         int64
	IdleTimeout        time.Duration
}

// DefaultScalingConfig mirrors the spec's stated defaults.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		ConsecutiveTicks:   3,
		CooldownMs:         30_000,
		IdleTimeout:        5 * time.Minute,
	}
}

// HealthCheckConfig parameterizes the health reconciliation loop (§4.4).
type HealthCheckConfig struct {
	IntervalMs         int64
	FailureThreshold   int
	TimeoutMs          int64
}

// TimeoutConfig bounds request and drain timeouts.
type TimeoutConfig struct {
	RequestTimeoutMs   uint64
	DrainGraceMs       int64
}

// TaskSpec is the stable definition of a deployable function.
type TaskSpec struct {
	Name              string
	RuntimeKind       RuntimeKind
	EntryPoint        string
	HandlerConfig     map[string]string
	Environment       map[string]string
	InvocationType    InvocationType
	MinInstances      int
	MaxInstances      int
	TargetConcurrency int
	ScalingConfig     ScalingConfig
	HealthCheckConfig HealthCheckConfig
	TimeoutConfig     TimeoutConfig
}

// Task binds a stable identifier to a TaskSpec.
type Task struct {
	TaskID string
	Spec   TaskSpec
}

// ArtifactKind enumerates the executable forms a runtime adapter can resolve.
type ArtifactKind int

const (
	ArtifactBinary ArtifactKind = iota
	ArtifactScript
	ArtifactContainer
	ArtifactWasm
	ArtifactNoExecutable
)

// ArtifactSpec describes the executable an adapter must resolve before
// starting an instance; URIs use the "sms+file://", "https://", "s3://"
// schemes named in the spec.
type ArtifactSpec struct {
	Kind           ArtifactKind
	URI            string
	Checksum       string
	Args           []string
	Env            map[string]string
	ResourceLimits ResourceLimits
}
