// File: channel/factory.go
// Author: momentics <momentics@gmail.com>
//
// create_channel_for_instance (spec §4.2): picks a transport based on
// the runtime kind's preferred/fallback list. Each instance gets a fresh
// channel; channels are never reused across instances.
package channel

import (
	"fmt"
	"net"

	"github.com/lfedgeai/spearlet-core/api"
)

// Config carries the per-transport addressing the factory needs. Only
// the fields relevant to the chosen runtime kind are consulted.
type Config struct {
	UnixSocketPath string // process adapter, preferred
	TCPAddr        string // process adapter fallback, or handshake accept addr
	GRPCAddr       string // container-job adapter pod service endpoint
	AcceptedConn   net.Conn // process adapter: already-accepted, handshake-verified conn

	// MuxDialer, when set alongside MuxAddr, routes a kubernetes-kind
	// instance over a shared yamux-multiplexed TCP session instead of
	// gRPC — the lower-overhead alternative for pods expected to host
	// many short-lived instances.
	MuxDialer *MuxDialer
	MuxAddr   string
}

// CreateChannelForInstance opens a fresh channel for id, trying the
// runtime kind's transports in preference order:
//   - process:       unix → tcp
//   - kubernetes job: yamux-multiplexed → grpc → tcp
//   - wasm:           none; returns ErrUnsupportedTransport, since wasm
//                      instantiation takes both ends of the in-memory
//                      pair from NewInMemoryPair directly
func CreateChannelForInstance(id api.RuntimeInstanceId, cfg Config) (CommunicationChannel, error) {
	switch id.Kind {
	case api.RuntimeProcess:
		if cfg.AcceptedConn != nil {
			return acceptTCP(id, cfg.AcceptedConn), nil
		}
		if cfg.UnixSocketPath != "" {
			if ch, err := dialUnix(id, cfg.UnixSocketPath); err == nil {
				return ch, nil
			}
		}
		if cfg.TCPAddr != "" {
			return dialTCP(id, cfg.TCPAddr)
		}
		return nil, ErrUnsupportedTransport.WithContext("runtime_kind", id.Kind.String())

	case api.RuntimeKubernetes:
		if cfg.MuxDialer != nil && cfg.MuxAddr != "" {
			if ch, err := cfg.MuxDialer.OpenChannel(id, cfg.MuxAddr); err == nil {
				return ch, nil
			}
		}
		if cfg.GRPCAddr != "" {
			if ch, err := dialGRPC(id, cfg.GRPCAddr); err == nil {
				return ch, nil
			}
		}
		if cfg.TCPAddr != "" {
			return dialTCP(id, cfg.TCPAddr)
		}
		return nil, ErrUnsupportedTransport.WithContext("runtime_kind", id.Kind.String())

	case api.RuntimeWasm:
		return nil, fmt.Errorf("%w: wasm instances are wired via NewInMemoryPair, not the factory", ErrUnsupportedTransport)

	default:
		return nil, ErrUnsupportedTransport.WithContext("runtime_kind", id.Kind.String())
	}
}
