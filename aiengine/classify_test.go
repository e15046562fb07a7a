package aiengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/spearlet-core/api"
)

func TestClassifyInvokeErrorDeadlineExceeded(t *testing.T) {
	cerr := classifyInvokeError(api.OpChatCompletions, context.DeadlineExceeded)
	require.Equal(t, "TIMEOUT", cerr.Code)
	require.True(t, cerr.Retryable)
}

func TestClassifyInvokeErrorCanceled(t *testing.T) {
	cerr := classifyInvokeError(api.OpChatCompletions, context.Canceled)
	require.Equal(t, "CANCELED", cerr.Code)
	require.False(t, cerr.Retryable)
}

func TestClassifyInvokeErrorJSONSyntax(t *testing.T) {
	var target any
	err := json.Unmarshal([]byte(`not json`), &target)
	require.Error(t, err)

	cerr := classifyInvokeError(api.OpChatCompletions, err)
	require.Equal(t, "SERIALIZATION_ERROR", cerr.Code)
	require.False(t, cerr.Retryable)
}

func TestClassifyInvokeErrorUnknownDefaultsToBackendError(t *testing.T) {
	cerr := classifyInvokeError(api.OpChatCompletions, errors.New("connection reset"))
	require.Equal(t, "BACKEND_ERROR", cerr.Code)
	require.True(t, cerr.Retryable)
}
