package runtimeadapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func TestRegistryReturnsConfiguredAdapter(t *testing.T) {
	proc, err := NewProcessAdapter("127.0.0.1")
	require.NoError(t, err)

	reg := NewRegistry(map[api.RuntimeKind]RuntimeAdapter{
		api.RuntimeProcess: proc,
	})

	got, ok := reg.Adapter(api.RuntimeProcess)
	require.True(t, ok)
	require.Same(t, proc, got)
}

func TestRegistryMissingKindNotOk(t *testing.T) {
	reg := NewRegistry(nil)
	_, ok := reg.Adapter(api.RuntimeKubernetes)
	require.False(t, ok)
}
