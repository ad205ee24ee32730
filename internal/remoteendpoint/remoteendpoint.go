// Package remoteendpoint implements the host-side peer of a TBNF
// connection: constructed by the authenticator after a client has already
// identified itself, it owns a NetworkIdentifier assigned once at first
// registration and reconnects in place whenever the authenticator hands it
// a freshly-accepted socket for the same identity.
package remoteendpoint

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/tbnf-go/tbnf/internal/codec"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/endpoint"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/registry"
)

// handshaker implements endpoint.Handshaker for the host side: the
// identification has already been consumed by the authenticator before
// construction, so all that remains is sending the login confirmation.
type handshaker struct {
	reg       *registry.Registry
	networkID uint8
}

func (h handshaker) Handshake(ctx context.Context, conn net.Conn) (uint8, error) {
	confirm := &messages.LoginConfirmationMessage{NetworkIdentifier: h.networkID}
	if ok := codec.WriteMessage(ctx, conn, h.reg, confirm); !ok {
		return 0, context.DeadlineExceeded
	}
	return h.networkID, nil
}

// Endpoint is the host side of one distinct client identity. It does not
// auto-initiate connections; it only ever reacts to sockets handed to it by
// an authenticator.
type Endpoint struct {
	*endpoint.Base

	HardwareAddress [6]byte

	// handshakeTimeout is cfg.ConnectionTimeout; it bounds each handshake.
	handshakeTimeout time.Duration
}

// New constructs a remote Endpoint already bound to networkID and schedules
// its handshake (the login confirmation) over conn (the socket the
// authenticator just accepted and identified). The handshake runs on its
// own goroutine so the authenticator's accept loop is never blocked by a
// slow or stalled peer.
func New(ctx context.Context, hwAddr [6]byte, networkID uint8, conn net.Conn, reg *registry.Registry, d *dispatch.Dispatcher, cfg endpoint.Config, events endpoint.Events, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	hs := handshaker{reg: reg, networkID: networkID}
	e := &Endpoint{
		HardwareAddress:  hwAddr,
		Base:             endpoint.New(ctx, reg, d, hs, cfg, events, logger),
		handshakeTimeout: cfg.ConnectionTimeout,
	}
	go e.handshake(ctx, conn)
	return e
}

// handshake runs HandleEndConnection under ctx limited to handshakeTimeout
// (when positive).
func (e *Endpoint) handshake(ctx context.Context, conn net.Conn) {
	if e.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.handshakeTimeout)
		defer cancel()
	}
	e.HandleEndConnection(ctx, conn)
}

// Reconnect replaces the endpoint's current socket with a fresh one,
// running the same handshake (a repeated login confirmation) before
// resuming the send/receive loops. The prior socket, if any, is cancelled
// and closed as a side effect of HandleEndConnection's socket replacement.
func (e *Endpoint) Reconnect(ctx context.Context, conn net.Conn) {
	go e.handshake(ctx, conn)
}
