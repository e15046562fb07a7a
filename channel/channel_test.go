package channel_test

import (
	"testing"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

func testInstanceID() api.RuntimeInstanceId {
	return api.RuntimeInstanceId{Kind: api.RuntimeWasm, Instance: "test-instance"}
}

func TestInMemoryPairSendReceive(t *testing.T) {
	host, guest := channel.NewInMemoryPair(testInstanceID())
	defer host.Close()
	defer guest.Close()

	msg := channel.Message{Kind: channel.KindRequest, RequestID: "r1", Payload: []byte("hello")}
	if err := host.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, err := guest.Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got.RequestID != "r1" || string(got.Payload) != "hello" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestInMemoryRequestResponse(t *testing.T) {
	host, guest := channel.NewInMemoryPair(testInstanceID())
	defer host.Close()
	defer guest.Close()

	go func() {
		req, err := guest.Receive()
		if err != nil {
			return
		}
		_ = guest.Send(channel.Message{
			Kind:      channel.KindResponse,
			RequestID: req.RequestID,
			Payload:   []byte("ack"),
		})
	}()

	resp, err := host.RequestResponse(channel.Message{Kind: channel.KindRequest, Payload: []byte("ping")}, time.Second)
	if err != nil {
		t.Fatalf("RequestResponse failed: %v", err)
	}
	if string(resp.Payload) != "ack" {
		t.Fatalf("unexpected response payload: %s", resp.Payload)
	}
}

func TestInMemoryRequestResponseTimeout(t *testing.T) {
	host, guest := channel.NewInMemoryPair(testInstanceID())
	defer host.Close()
	defer guest.Close()

	_, err := host.RequestResponse(channel.Message{Kind: channel.KindRequest, Payload: []byte("ping")}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestChannelClosedAfterClose(t *testing.T) {
	host, guest := channel.NewInMemoryPair(testInstanceID())
	_ = guest
	if err := host.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if host.IsConnected() {
		t.Fatal("expected IsConnected() == false after Close")
	}
	if err := host.Send(channel.Message{Kind: channel.KindSignal}); err == nil {
		t.Fatal("expected error sending on closed channel")
	}
}

func TestCreateChannelForInstanceUnsupportedWasm(t *testing.T) {
	_, err := channel.CreateChannelForInstance(testInstanceID(), channel.Config{})
	if err == nil {
		t.Fatal("expected error: wasm instances must use NewInMemoryPair directly")
	}
}

func TestCreateChannelForInstanceNoTransportConfigured(t *testing.T) {
	id := api.RuntimeInstanceId{Kind: api.RuntimeProcess, Instance: "p1"}
	_, err := channel.CreateChannelForInstance(id, channel.Config{})
	if err == nil {
		t.Fatal("expected ErrUnsupportedTransport when no unix/tcp config is provided")
	}
}
