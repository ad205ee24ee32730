package dispatch

import (
	"testing"

	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/registry"
)

type fakeEndpoint struct{ id uint8 }

func (f *fakeEndpoint) NetworkIdentifier() (uint8, bool) { return f.id, true }

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	if err := r.Register(messages.BuiltIns()...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestBindRoutesToHandler(t *testing.T) {
	r := newTestRegistry(t)
	d := New(r)
	var got *messages.LoginConfirmationMessage
	err := d.Bind(&messages.LoginConfirmationMessage{}, func(ep Endpoint, msg registry.Payload) {
		got = msg.(*messages.LoginConfirmationMessage)
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ep := &fakeEndpoint{id: 1}
	d.Handle(ep, &messages.LoginConfirmationMessage{NetworkIdentifier: 5})
	if got == nil || got.NetworkIdentifier != 5 {
		t.Fatalf("handler did not receive the expected message, got %+v", got)
	}
}

func TestDuplicateBindFails(t *testing.T) {
	r := newTestRegistry(t)
	d := New(r)
	noop := func(Endpoint, registry.Payload) {}
	if err := d.Bind(&messages.InactivityCheckMessage{}, noop); err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	if err := d.Bind(&messages.InactivityCheckMessage{}, noop); err == nil {
		t.Fatalf("expected ErrDuplicateHandler on second Bind")
	}
}

func TestIgnoreAndHandlerCollide(t *testing.T) {
	r := newTestRegistry(t)
	d := New(r)
	if err := d.Ignore(&messages.InactivityCheckMessage{}); err != nil {
		t.Fatalf("Ignore: %v", err)
	}
	if err := d.Bind(&messages.InactivityCheckMessage{}, func(Endpoint, registry.Payload) {}); err == nil {
		t.Fatalf("expected ErrDuplicateHandler when binding over an Ignore'd tag")
	}
}

func TestHandleNilMessageReturnsWithoutInvokingDefault(t *testing.T) {
	r := newTestRegistry(t)
	d := New(r)
	called := false
	d.Default = func(ep Endpoint, msg registry.Payload) { called = true }
	d.Handle(&fakeEndpoint{}, nil)
	if called {
		t.Fatalf("Default was invoked for a nil message, want a silent no-op (cancelled read)")
	}
}

func TestUnboundMessageFallsBackToDefault(t *testing.T) {
	r := newTestRegistry(t)
	d := New(r)
	called := false
	d.Default = func(ep Endpoint, msg registry.Payload) { called = true }
	d.Handle(&fakeEndpoint{}, &messages.IdentificationMessage{})
	if !called {
		t.Fatalf("expected Default invoked for unbound message type")
	}
}

func TestBindTypedAvoidsManualAssertion(t *testing.T) {
	r := newTestRegistry(t)
	d := New(r)
	var gotID [6]byte
	err := BindTyped(d, &messages.IdentificationMessage{}, func(ep Endpoint, msg *messages.IdentificationMessage) {
		gotID = msg.HardwareAddress
	})
	if err != nil {
		t.Fatalf("BindTyped: %v", err)
	}
	want := [6]byte{9, 9, 9, 9, 9, 9}
	d.Handle(&fakeEndpoint{}, &messages.IdentificationMessage{HardwareAddress: want})
	if gotID != want {
		t.Fatalf("BindTyped handler got %v, want %v", gotID, want)
	}
}
