package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func TestLoadStaticTaskResolverParsesTasks(t *testing.T) {
	doc := `
[[tasks]]
name = "echo"
runtime_kind = "process"
entry_point = "./bin/echo"
min_instances = 1
max_instances = 4
target_concurrency = 8
request_timeout_ms = 5000

[[tasks]]
name = "guest-wasm"
runtime_kind = "wasm"
entry_point = "guest.wasm"
`
	resolver, err := LoadStaticTaskResolverBytes([]byte(doc))
	require.NoError(t, err)

	task, err := resolver.ResolveTask(context.Background(), "echo")
	require.NoError(t, err)
	require.Equal(t, api.RuntimeProcess, task.Spec.RuntimeKind)
	require.Equal(t, "./bin/echo", task.Spec.EntryPoint)
	require.EqualValues(t, 8, task.Spec.TargetConcurrency)

	wasmTask, err := resolver.ResolveTask(context.Background(), "guest-wasm")
	require.NoError(t, err)
	require.Equal(t, api.RuntimeWasm, wasmTask.Spec.RuntimeKind)
}

func TestLoadStaticTaskResolverUnknownTaskReturnsError(t *testing.T) {
	resolver, err := LoadStaticTaskResolverBytes([]byte(`[[tasks]]
name = "echo"
runtime_kind = "process"
`))
	require.NoError(t, err)

	_, err = resolver.ResolveTask(context.Background(), "missing")
	require.Error(t, err)
}

func TestLoadStaticTaskResolverRejectsInvalidRuntimeKind(t *testing.T) {
	_, err := LoadStaticTaskResolverBytes([]byte(`[[tasks]]
name = "bad"
runtime_kind = "not-a-kind"
`))
	require.Error(t, err)
}
