// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown unifies the orderly-teardown contract used by pools,
// adapters, and the function service facade.
type GracefulShutdown interface {
	// Shutdown stops all internal work and releases resources, returning
	// an error if a component failed to stop cleanly.
	Shutdown() error
}
