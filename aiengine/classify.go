// File: aiengine/classify.go
// Author: momentics <momentics@gmail.com>
//
// Stable error-code classification from heterogeneous causes (context
// deadlines, HTTP status codes, serialization failures), grounded on
// flowersec-go/fserrors/classify.go's ClassifyConnectCode/
// ClassifyHandshakeCode shape — re-expressed for LLM backend failures
// rather than transport handshakes.
package aiengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lfedgeai/spearlet-core/api"
)

// classifyInvokeError maps a raw adapter-level failure to a CanonicalError
// with a stable code and the router's retry guidance.
func classifyInvokeError(op api.Operation, err error) *api.CanonicalError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newCanonicalError(op, "TIMEOUT", "backend invocation timed out", true)
	case errors.Is(err, context.Canceled):
		return newCanonicalError(op, "CANCELED", "backend invocation canceled", false)
	default:
		var jsonErr *json.SyntaxError
		if errors.As(err, &jsonErr) {
			return newCanonicalError(op, "SERIALIZATION_ERROR", err.Error(), false)
		}
		var httpErr *httpStatusError
		if errors.As(err, &httpErr) {
			return classifyHTTPStatus(op, httpErr)
		}
		return newCanonicalError(op, "BACKEND_ERROR", err.Error(), true)
	}
}

// httpStatusError carries an upstream HTTP status so classification can
// distinguish retryable (429/5xx) from permanent (4xx) backend failures.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return http.StatusText(e.StatusCode) + ": " + e.Body
}

func classifyHTTPStatus(op api.Operation, e *httpStatusError) *api.CanonicalError {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return newCanonicalError(op, "RATE_LIMITED", "backend rate limited the request", true)
	case e.StatusCode >= 500:
		return newCanonicalError(op, "BACKEND_ERROR", "backend returned a server error", true)
	case e.StatusCode >= 400:
		return newCanonicalError(op, "INVALID_REQUEST", "backend rejected the request", false)
	default:
		return newCanonicalError(op, "BACKEND_ERROR", "unexpected backend response", true)
	}
}

func newCanonicalError(op api.Operation, code, message string, retryable bool) *api.CanonicalError {
	kind := api.KindTransient
	if !retryable {
		kind = api.KindPermanent
	}
	return &api.CanonicalError{
		Error:     *api.NewError(kind, code, message).WithRetryable(retryable),
		Operation: op,
	}
}
