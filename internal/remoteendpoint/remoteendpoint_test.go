package remoteendpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tbnf-go/tbnf/internal/codec"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/endpoint"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	if err := r.Register(messages.BuiltIns()...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestNewSendsLoginConfirmationImmediately(t *testing.T) {
	reg := newTestRegistry(t)
	d := dispatch.New(reg)
	client, server := net.Pipe()
	defer client.Close()

	cfg := endpoint.Config{InactivityCheckInterval: time.Hour, ConnectionTimeout: time.Second}
	hw := [6]byte{1, 2, 3, 4, 5, 6}
	ep := New(context.Background(), hw, 11, server, reg, d, cfg, endpoint.Events{}, nil)
	defer ep.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := readFrame(ctx, client, reg)
	if !ok {
		t.Fatalf("failed to read login confirmation from pipe")
	}
	confirm, okType := msg.(*messages.LoginConfirmationMessage)
	if !okType || confirm.NetworkIdentifier != 11 {
		t.Fatalf("got %+v, want NetworkIdentifier=11", msg)
	}
	// The identifier is adopted once the handshake write returns, which can
	// lag the peer's read of the confirmation; poll briefly for it.
	deadline := time.Now().Add(time.Second)
	id, ok := ep.NetworkIdentifier()
	for !ok && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		id, ok = ep.NetworkIdentifier()
	}
	if !ok || id != 11 {
		t.Fatalf("NetworkIdentifier() = %d, %v, want 11, true", id, ok)
	}
}

func TestReconnectReplacesSocketAndReHandshakes(t *testing.T) {
	reg := newTestRegistry(t)
	d := dispatch.New(reg)
	client1, server1 := net.Pipe()
	defer client1.Close()

	cfg := endpoint.Config{InactivityCheckInterval: time.Hour, ConnectionTimeout: time.Second}
	hw := [6]byte{9, 9, 9, 9, 9, 9}
	ep := New(context.Background(), hw, 3, server1, reg, d, cfg, endpoint.Events{}, nil)
	defer ep.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := readFrame(ctx, client1, reg); !ok {
		t.Fatalf("expected initial login confirmation")
	}

	client2, server2 := net.Pipe()
	defer client2.Close()
	ep.Reconnect(context.Background(), server2)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	msg, ok := readFrame(ctx2, client2, reg)
	if !ok {
		t.Fatalf("expected login confirmation on the reconnected socket")
	}
	confirm, okType := msg.(*messages.LoginConfirmationMessage)
	if !okType || confirm.NetworkIdentifier != 3 {
		t.Fatalf("got %+v, want NetworkIdentifier=3", msg)
	}
}

func readFrame(ctx context.Context, conn net.Conn, reg *registry.Registry) (registry.Payload, bool) {
	type result struct {
		msg registry.Payload
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		msg, ok := codec.ReadMessage(context.Background(), conn, reg)
		ch <- result{msg, ok}
	}()
	select {
	case r := <-ch:
		return r.msg, r.ok
	case <-ctx.Done():
		return nil, false
	}
}
