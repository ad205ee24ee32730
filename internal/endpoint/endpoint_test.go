package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tbnf-go/tbnf/internal/codec"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/registry"
)

// fixedHandshaker immediately "succeeds" a handshake with a fixed identifier,
// standing in for the client/remote-specific wire exchange under test here.
type fixedHandshaker struct {
	id  uint8
	err error
}

func (f fixedHandshaker) Handshake(ctx context.Context, conn net.Conn) (uint8, error) {
	return f.id, f.err
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	if err := r.Register(messages.BuiltIns()...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestHandleEndConnectionAdoptsNetworkIdentifier(t *testing.T) {
	reg := newTestRegistry(t)
	d := dispatch.New(reg)
	b := New(context.Background(), reg, d, fixedHandshaker{id: 7}, Config{InactivityCheckInterval: time.Hour, ConnectionTimeout: time.Second}, Events{}, nil)
	defer b.Dispose()

	client, server := net.Pipe()
	defer client.Close()

	b.HandleEndConnection(context.Background(), server)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if id, ok := b.NetworkIdentifier(); ok {
			if id != 7 {
				t.Fatalf("NetworkIdentifier() = %d, want 7", id)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("NetworkIdentifier never became available")
}

func TestEnqueueDeliversMessageAcrossPipe(t *testing.T) {
	reg := newTestRegistry(t)
	d := dispatch.New(reg)
	b := New(context.Background(), reg, d, fixedHandshaker{id: 1}, Config{InactivityCheckInterval: time.Hour, ConnectionTimeout: time.Second}, Events{}, nil)
	defer b.Dispose()

	client, server := net.Pipe()
	defer client.Close()
	b.HandleEndConnection(context.Background(), server)

	sent := &messages.LoginConfirmationMessage{NetworkIdentifier: 42}
	b.Enqueue(sent)

	readCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := readFrame(readCtx, client, reg)
	if !ok {
		t.Fatalf("failed to read the enqueued frame from the pipe")
	}
	got, okType := msg.(*messages.LoginConfirmationMessage)
	if !okType || got.NetworkIdentifier != sent.NetworkIdentifier {
		t.Fatalf("got %+v, want %+v", msg, sent)
	}
}

func TestForceDisconnectionFiresOnDisconnection(t *testing.T) {
	reg := newTestRegistry(t)
	d := dispatch.New(reg)
	disconnected := make(chan struct{}, 1)
	events := Events{
		OnDisconnection: func(*Base) {
			select {
			case disconnected <- struct{}{}:
			default:
			}
		},
	}
	b := New(context.Background(), reg, d, fixedHandshaker{id: 1}, Config{InactivityCheckInterval: time.Hour, ConnectionTimeout: time.Second}, events, nil)
	defer b.Dispose()

	client, server := net.Pipe()
	defer client.Close()
	b.HandleEndConnection(context.Background(), server)

	b.ForceDisconnection()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatalf("OnDisconnection was not invoked after ForceDisconnection")
	}
}

func TestHandshakeFailureInvokesOnConnectionFailure(t *testing.T) {
	reg := newTestRegistry(t)
	d := dispatch.New(reg)
	failed := make(chan error, 1)
	events := Events{
		OnConnectionFailure: func(_ *Base, err error) { failed <- err },
	}
	boom := context.DeadlineExceeded
	b := New(context.Background(), reg, d, fixedHandshaker{err: boom}, Config{InactivityCheckInterval: time.Hour, ConnectionTimeout: time.Second}, events, nil)
	defer b.Dispose()

	client, server := net.Pipe()
	defer client.Close()
	b.HandleEndConnection(context.Background(), server)

	select {
	case err := <-failed:
		if err != boom {
			t.Fatalf("OnConnectionFailure err = %v, want %v", err, boom)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnConnectionFailure was not invoked")
	}
	if _, ok := b.NetworkIdentifier(); ok {
		t.Fatalf("NetworkIdentifier should not be set after a failed handshake")
	}
}

// readFrame observes one frame written by the send loop onto the pipe,
// bounded by ctx so a send-loop bug cannot hang the test.
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
