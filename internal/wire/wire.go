// Package wire provides the binary primitives used to (de)serialize message
// payloads: fixed-width little-endian integers and length-prefixed UTF-8
// strings. The string length prefix is a 7-bit-group variable-length
// integer, the same layout as .NET's BinaryWriter.Write7BitEncodedInt and
// (conveniently) identical to the LEB128 encoding behind Go's
// encoding/binary.Uvarint — this is load-bearing for interop with any peer
// built against the reference wire format.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrStringTooLarge guards against a corrupt or hostile length prefix
// forcing an unbounded allocation.
var ErrStringTooLarge = errors.New("wire: string length prefix exceeds frame budget")

// maxStringLen is generous relative to the 65535-byte frame cap a string can
// ever appear in; it exists only to reject obviously malformed input early.
const maxStringLen = 65535

// Writer accumulates a payload in wire order.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

func (w *Writer) WriteUint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteInt8(v int8) { w.buf.WriteByte(byte(v)) }

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteBytes writes raw bytes with no length prefix.
func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }

// WriteString writes a 7-bit-group varint length prefix followed by the
// UTF-8 bytes of s.
func (w *Writer) WriteString(s string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	w.buf.Write(lenBuf[:n])
	w.buf.WriteString(s)
}

// Reader consumes a payload in wire order.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps a payload slice for sequential decoding.
func NewReader(payload []byte) *Reader {
	return &Reader{r: bufio.NewReader(bytes.NewReader(payload))}
}

func (r *Reader) ReadUint8() (uint8, error) { return r.r.ReadByte() }

func (r *Reader) ReadInt8() (int8, error) {
	b, err := r.r.ReadByte()
	return int8(b), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadString reads a 7-bit-group varint length prefix followed by that many
// UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", ErrStringTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
