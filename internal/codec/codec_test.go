package codec

import (
	"bytes"
	"context"
	"testing"

	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	if err := r.Register(messages.BuiltIns()...); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func TestPackUnpackRoundTrip(t *testing.T) {
	r := testRegistry(t)
	msg := &messages.LoginConfirmationMessage{NetworkIdentifier: 9}
	tag, ok := r.TagOf(msg)
	if !ok {
		t.Fatalf("tag not found")
	}
	frame, err := Pack(tag, msg)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got := &messages.LoginConfirmationMessage{}
	if err := Unpack(frame, tag, got); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.NetworkIdentifier != msg.NetworkIdentifier {
		t.Fatalf("NetworkIdentifier = %d, want %d", got.NetworkIdentifier, msg.NetworkIdentifier)
	}
}

func TestUnpackTagMismatch(t *testing.T) {
	r := testRegistry(t)
	msg := &messages.InactivityCheckMessage{}
	tag, _ := r.TagOf(msg)
	frame, err := Pack(tag, msg)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	err = Unpack(frame, tag+1, &messages.InactivityCheckMessage{})
	if err == nil {
		t.Fatalf("expected ErrTagMismatch")
	}
}

func TestWriteMessageReadMessageRoundTrip(t *testing.T) {
	r := testRegistry(t)
	var buf bytes.Buffer
	sent := &messages.IdentificationMessage{HardwareAddress: [6]byte{1, 2, 3, 4, 5, 6}, Discriminator: 3}
	if ok := WriteMessage(context.Background(), &buf, r, sent); !ok {
		t.Fatalf("WriteMessage returned false")
	}
	got, ok := ReadMessage(context.Background(), &buf, r)
	if !ok {
		t.Fatalf("ReadMessage returned ok=false")
	}
	ident, okType := got.(*messages.IdentificationMessage)
	if !okType {
		t.Fatalf("ReadMessage returned %T, want *IdentificationMessage", got)
	}
	// Discriminator is local-only state and is not carried on the wire.
	if ident.HardwareAddress != sent.HardwareAddress || ident.Discriminator != 0 {
		t.Fatalf("round trip = %+v, want HardwareAddress %v and Discriminator 0", ident, sent.HardwareAddress)
	}
}

func TestReadMessageOnEmptyStreamStops(t *testing.T) {
	r := testRegistry(t)
	_, ok := ReadMessage(context.Background(), &bytes.Buffer{}, r)
	if ok {
		t.Fatalf("expected ok=false on empty stream")
	}
}

func TestReadMessageUnknownTagIsNoOp(t *testing.T) {
	r := testRegistry(t)
	var buf bytes.Buffer
	// size=2, tag=0xFFFF (never registered)
	buf.Write([]byte{2, 0, 0xFF, 0xFF})
	msg, ok := ReadMessage(context.Background(), &buf, r)
	if !ok {
		t.Fatalf("expected ok=true for an unknown-but-well-formed tag")
	}
	if msg != nil {
		t.Fatalf("expected nil payload for unknown tag, got %T", msg)
	}
}

func TestWriteMessageRejectsCancelledContext(t *testing.T) {
	r := testRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if ok := WriteMessage(ctx, &buf, r, &messages.InactivityCheckMessage{}); ok {
		t.Fatalf("expected WriteMessage to fail on a cancelled context")
	}
}

// FuzzCodecDecode exercises ReadMessage with arbitrary inputs to ensure no
// panics and no infinite loops regardless of malformed input.
func FuzzCodecDecode(f *testing.F) {
	r := registry.New()
	_ = r.Register(messages.BuiltIns()...)
	seed := [][]byte{
		{0, 0},
		{2, 0, 0, 0},
		{6, 0, 0, 0, 1, 2, 3, 4, 5},
		{0xFF, 0xFF, 1, 2, 3},
	}
	for _, s := range seed {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		reader := bytes.NewReader(data)
		for i := 0; i < 4 && reader.Len() > 0; i++ {
			_, ok := ReadMessage(context.Background(), reader, r)
			if !ok {
				break
			}
		}
	})
}
