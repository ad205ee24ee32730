// Package codec packs and unpacks registry.Payload values into
// length-prefixed frames: a 16-bit little-endian size, followed by a 16-bit
// little-endian TypeTag, followed by the payload bytes.
package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tbnf-go/tbnf/internal/registry"
	"github.com/tbnf-go/tbnf/internal/wire"
)

// MaxFrameSize is the largest permitted value of TypeTag+payload combined.
const MaxFrameSize = 65535

var (
	// ErrFrameTooLarge is returned by Pack when the packaged frame would
	// exceed MaxFrameSize; WriteMessage reports the same case as false.
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")
	// ErrTagMismatch is returned by Unpack when the frame's leading TypeTag
	// does not match the target payload's registered tag.
	ErrTagMismatch = errors.New("codec: type tag mismatch")
)

// Pack serializes tag followed by payload's wire encoding.
func Pack(tag registry.TypeTag, payload registry.Payload) ([]byte, error) {
	w := wire.NewWriter()
	w.WriteUint16(uint16(tag))
	if err := payload.Pack(w); err != nil {
		return nil, fmt.Errorf("codec: pack payload: %w", err)
	}
	if w.Len() > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return w.Bytes(), nil
}

// Unpack verifies frame's leading tag matches wantTag, then decodes the
// remainder into target.
func Unpack(frame []byte, wantTag registry.TypeTag, target registry.Payload) error {
	r := wire.NewReader(frame)
	tag, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("codec: read tag: %w", err)
	}
	if registry.TypeTag(tag) != wantTag {
		return fmt.Errorf("%w: frame has %d, want %d", ErrTagMismatch, tag, wantTag)
	}
	return target.Unpack(r)
}

// BuildMessage decodes a complete frame (tag + payload) by looking tag up in
// reg and instantiating a fresh payload. An unknown tag yields (nil, nil),
// matching the "unknown tag -> nothing decoded" rule rather than an error.
func BuildMessage(reg *registry.Registry, frame []byte) (registry.Payload, error) {
	r := wire.NewReader(frame)
	rawTag, err := r.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("codec: read tag: %w", err)
	}
	variant, ok := reg.VariantFor(registry.TypeTag(rawTag))
	if !ok {
		return nil, nil
	}
	payload := variant.New()
	if err := payload.Unpack(r); err != nil {
		return nil, fmt.Errorf("codec: unpack %s: %w", variant.Name(), err)
	}
	return payload, nil
}

// WriteMessage packs message and writes it to w as a length-prefixed frame.
// It returns false on cancellation or any I/O failure; no partial frame is
// ever written deliberately (the size prefix is written together with the
// payload in a single buffered Write).
func WriteMessage(ctx context.Context, w io.Writer, reg *registry.Registry, message registry.Payload) bool {
	if ctx.Err() != nil {
		return false
	}
	tag, ok := reg.TagOf(message)
	if !ok {
		return false
	}
	packed, err := Pack(tag, message)
	if err != nil {
		return false
	}
	if len(packed) > MaxFrameSize {
		return false
	}
	frame := make([]byte, 2+len(packed))
	binary.LittleEndian.PutUint16(frame, uint16(len(packed)))
	copy(frame[2:], packed)
	if ctx.Err() != nil {
		return false
	}
	_, err = w.Write(frame)
	return err == nil
}

// ReadMessage reads one length-prefixed frame from r and decodes it via reg.
// The bool result tells the caller whether the underlying stream is still
// usable: false means EOF/cancellation/hard I/O failure and the receive loop
// should stop. true with a nil payload means the frame carried an unknown or
// malformed tag, or a payload that failed to decode, and the caller should
// treat it as a no-op and keep looping.
func ReadMessage(ctx context.Context, r io.Reader, reg *registry.Registry) (registry.Payload, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	var sizeBuf [2]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, false
	}
	size := binary.LittleEndian.Uint16(sizeBuf[:])
	frame := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, false
		}
	}
	msg, err := BuildMessage(reg, frame)
	if err != nil {
		return nil, true
	}
	return msg, true
}
