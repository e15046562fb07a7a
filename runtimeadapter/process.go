// File: runtimeadapter/process.go
// Author: momentics <momentics@gmail.com>
//
// Process adapter (spec §4.3): spawns a child process, injects
// SERVICE_ADDR/SECRET, and accepts its handshake connection over TCP;
// thereafter the connection is the channel. Grounded on adapters/
// executor_adapter.go's lifecycle-wrapper shape and channel/stream.go's
// VerifyHandshake contract.
package runtimeadapter

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

// ProcessAdapter manages spawned-child instances connected back over a
// handshake-secret-gated TCP accept loop.
type ProcessAdapter struct {
	listenHost string
	acceptWait time.Duration

	mu       sync.Mutex
	pending  map[int64]chan net.Conn
	listener net.Listener
}

// NewProcessAdapter starts the shared accept loop on listenHost:0 (OS
// picks a free port) used to receive every spawned child's handshake.
func NewProcessAdapter(listenHost string) (*ProcessAdapter, error) {
	l, err := net.Listen("tcp", listenHost+":0")
	if err != nil {
		return nil, api.NewError(api.KindInternal, "EIO", "failed to open process adapter listener").WithContext("cause", err.Error())
	}
	a := &ProcessAdapter{
		listenHost: listenHost,
		acceptWait: 10 * time.Second,
		pending:    make(map[int64]chan net.Conn),
		listener:   l,
	}
	go a.acceptLoop()
	return a, nil
}

func (a *ProcessAdapter) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return
		}
		go a.handleConn(conn)
	}
}

// handleConn reads the handshake frame off conn and routes it to the
// CreateInstance call waiting on the matching secret, if any; otherwise
// the connection is rejected.
func (a *ProcessAdapter) handleConn(conn net.Conn) {
	secretProbe := make(chan int64, 1)
	go func() {
		secret, err := channel.PeekHandshakeSecret(conn)
		if err != nil {
			secretProbe <- -1
			return
		}
		secretProbe <- secret
	}()

	select {
	case secret := <-secretProbe:
		a.mu.Lock()
		ch, ok := a.pending[secret]
		if ok {
			delete(a.pending, secret)
		}
		a.mu.Unlock()
		if !ok {
			_ = conn.Close()
			return
		}
		ch <- conn
	case <-time.After(a.acceptWait):
		_ = conn.Close()
	}
}

func randomSecret() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) & 0x7fffffffffffffff), nil
}

// CreateInstance spawns the artifact named in cfg.RuntimeConfig["entry_point"]
// with SERVICE_ADDR/SECRET injected, returning the Instance in Starting.
func (a *ProcessAdapter) CreateInstance(ctx context.Context, cfg api.InstanceConfig) (*Instance, error) {
	entryPoint := cfg.RuntimeConfig["entry_point"]
	if entryPoint == "" {
		return nil, api.NewError(api.KindPermanent, "EINVAL", "process adapter requires runtime_config.entry_point")
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, api.NewError(api.KindInternal, "EIO", "failed to generate handshake secret").WithContext("cause", err.Error())
	}

	waitConn := make(chan net.Conn, 1)
	a.mu.Lock()
	a.pending[secret] = waitConn
	a.mu.Unlock()

	addr := a.listener.Addr().String()
	fields := strings.Fields(entryPoint)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("SERVICE_ADDR=%s", addr), fmt.Sprintf("SECRET=%d", secret))
	for k, v := range cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if err := cmd.Start(); err != nil {
		a.mu.Lock()
		delete(a.pending, secret)
		a.mu.Unlock()
		return nil, api.NewError(api.KindTransient, "EIO", "failed to start child process").WithContext("cause", err.Error())
	}

	id := api.RuntimeInstanceId{Kind: api.RuntimeProcess, Instance: fmt.Sprintf("pid-%d", cmd.Process.Pid)}
	inst := NewInstance(id, cfg)
	inst.AdapterState = &processState{pendingConn: waitConn, cmd: cmd}
	return inst, nil
}

// processState is the process adapter's private bookkeeping, hung off
// Instance.AdapterState.
type processState struct {
	pendingConn chan net.Conn
	cmd         *exec.Cmd
}

// StartInstance waits for the spawned child's handshake connection and
// wires it as the instance's channel, then waits for first readiness.
func (a *ProcessAdapter) StartInstance(ctx context.Context, inst *Instance) error {
	ps := inst.AdapterState.(*processState)
	select {
	case conn := <-ps.pendingConn:
		inst.Channel = channel.AcceptHandshakedConn(inst.ID, conn)
	case <-ctx.Done():
		return api.NewError(api.KindTransient, "ETIMEDOUT", "timed out waiting for process handshake")
	case <-time.After(a.acceptWait):
		return api.NewError(api.KindTransient, "ETIMEDOUT", "timed out waiting for process handshake")
	}

	if _, err := inst.Channel.RequestResponse(channel.Message{Kind: channel.KindRequest, Payload: []byte(`{"op":"health_check"}`)}, 5*time.Second); err != nil {
		return err
	}
	return inst.MarkReady()
}

// StopInstance sends a termination Signal, waits for drain, then kills
// the child if it has not exited by the adapter's grace period.
func (a *ProcessAdapter) StopInstance(ctx context.Context, inst *Instance) error {
	ps := inst.AdapterState.(*processState)
	if inst.Channel != nil {
		_ = inst.Channel.Send(channel.Message{Kind: channel.KindSignal, Payload: []byte(`{"op":"shutdown"}`)})
	}

	done := make(chan error, 1)
	go func() { done <- ps.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = ps.cmd.Process.Kill()
		<-done
	}

	if inst.Channel != nil {
		_ = inst.Channel.Close()
	}
	return inst.MarkStopped()
}

// HealthCheck sends a health_check request and reports reachability.
func (a *ProcessAdapter) HealthCheck(ctx context.Context, inst *Instance) HealthStatus {
	if inst.Channel == nil || !inst.Channel.IsConnected() {
		return HealthStatus{Healthy: false, Reason: "channel not connected"}
	}
	_, err := inst.Channel.RequestResponse(channel.Message{Kind: channel.KindRequest, Payload: []byte(`{"op":"health_check"}`)}, 2*time.Second)
	if err != nil {
		return HealthStatus{Healthy: false, Reason: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

// Execute is a thin wrapper over the instance's channel request_response.
func (a *ProcessAdapter) Execute(ctx context.Context, inst *Instance, req api.ExecutionRequest) (api.ExecutionResponse, error) {
	return executeOverChannel(inst, req)
}

// Capabilities describes the process adapter's operating envelope.
func (a *ProcessAdapter) Capabilities() api.AdapterCapabilities {
	return api.AdapterCapabilities{
		Scalable:               true,
		HotReload:              false,
		PersistentStorage:      true,
		NetworkIsolation:       false,
		MaxConcurrentInstances: 256,
		SupportedProtocols:     []string{"unix", "tcp"},
	}
}
