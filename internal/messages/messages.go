// Package messages defines the built-in system message variants every
// endpoint registers regardless of which application messages it adds:
// identification (client → host), login confirmation (host → client), and
// an inactivity keep-alive with no payload.
package messages

import "github.com/tbnf-go/tbnf/internal/registry"

// IdentificationMessage carries the client's hardware address, sent once at
// the start of a handshake. Discriminator is local-only state (see
// clientendpoint.Identity) used for logging/diagnostics on the client side;
// it is never part of the 6-byte wire payload, even on a platform whose
// interface address is reported as 8 bytes — only the first 6 go on the
// wire.
type IdentificationMessage struct {
	HardwareAddress [6]byte
	Discriminator   uint16
}

func (m *IdentificationMessage) Pack(w registry.PayloadWriter) error {
	w.WriteBytes(m.HardwareAddress[:])
	return nil
}

func (m *IdentificationMessage) Unpack(r registry.PayloadReader) error {
	b, err := r.ReadBytes(6)
	if err != nil {
		return err
	}
	copy(m.HardwareAddress[:], b)
	return nil
}

// LoginConfirmationMessage is the host's reply to a successful
// identification, carrying the NetworkIdentifier the client must adopt.
type LoginConfirmationMessage struct {
	NetworkIdentifier uint8
}

func (m *LoginConfirmationMessage) Pack(w registry.PayloadWriter) error {
	w.WriteUint8(m.NetworkIdentifier)
	return nil
}

func (m *LoginConfirmationMessage) Unpack(r registry.PayloadReader) error {
	v, err := r.ReadUint8()
	m.NetworkIdentifier = v
	return err
}

// InactivityCheckMessage is a zero-payload keep-alive the send loop injects
// when no application message has been queued for InactivityCheckInterval.
type InactivityCheckMessage struct{}

func (m *InactivityCheckMessage) Pack(w registry.PayloadWriter) error   { return nil }
func (m *InactivityCheckMessage) Unpack(r registry.PayloadReader) error { return nil }

// BuiltIns returns the descriptors for the three built-in variants, for
// passing to Registry.Register alongside any application-defined variants.
func BuiltIns() []registry.Variant {
	return []registry.Variant{
		registry.Describe(&IdentificationMessage{}, registry.AuthorClient),
		registry.Describe(&LoginConfirmationMessage{}, registry.AuthorHost),
		registry.Describe(&InactivityCheckMessage{}, registry.AuthorClientOrHost),
	}
}
