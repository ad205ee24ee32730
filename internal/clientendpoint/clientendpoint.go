// Package clientendpoint implements the initiating side of a TBNF
// connection: it dials a host, identifies itself, adopts the assigned
// network identifier, and keeps retrying indefinitely (with backoff) until
// disposed.
package clientendpoint

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tbnf-go/tbnf/internal/codec"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/endpoint"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/metrics"
	"github.com/tbnf-go/tbnf/internal/registry"
)

// Identity is the (hardware address, discriminator) pair a client presents
// during identification.
type Identity struct {
	HardwareAddress [6]byte
	Discriminator   uint16
}

// LocalIdentity derives an Identity from the first non-loopback network
// interface with a hardware address of at least 6 bytes; a longer address
// contributes its first 6 bytes.
func LocalIdentity(discriminator uint16) (Identity, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Identity{}, fmt.Errorf("clientendpoint: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) < 6 {
			continue
		}
		var id Identity
		copy(id.HardwareAddress[:], iface.HardwareAddr)
		id.Discriminator = discriminator
		return id, nil
	}
	return Identity{}, fmt.Errorf("clientendpoint: no non-loopback interface with a hardware address found")
}

// handshaker implements endpoint.Handshaker for the client side: write
// identification, read the login confirmation, adopt its NetworkIdentifier.
type handshaker struct {
	reg      *registry.Registry
	identity Identity
}

func (h handshaker) Handshake(ctx context.Context, conn net.Conn) (uint8, error) {
	ident := &messages.IdentificationMessage{
		HardwareAddress: h.identity.HardwareAddress,
		Discriminator:   h.identity.Discriminator,
	}
	if ok := codec.WriteMessage(ctx, conn, h.reg, ident); !ok {
		return 0, fmt.Errorf("clientendpoint: failed to send identification")
	}
	reply, ok := codec.ReadMessage(ctx, conn, h.reg)
	if !ok {
		return 0, fmt.Errorf("clientendpoint: failed to read login confirmation")
	}
	confirm, okType := reply.(*messages.LoginConfirmationMessage)
	if !okType {
		return 0, fmt.Errorf("clientendpoint: expected login confirmation, got %T", reply)
	}
	return confirm.NetworkIdentifier, nil
}

// Endpoint is the client side of a TBNF connection.
type Endpoint struct {
	*endpoint.Base

	addr       string
	dialer     net.Dialer
	identity   Identity
	cfg        endpoint.Config
	logger     *slog.Logger
	backoff    backoff.BackOff
	onDialFail func(err error)
}

// New constructs a client Endpoint targeting addr (host:port). Registration
// must already include every variant both peers will exchange, including
// messages.BuiltIns(). Call RequestConnection to begin the auto-reconnect
// chain; New itself does not dial anything.
func New(ctx context.Context, addr string, identity Identity, reg *registry.Registry, d *dispatch.Dispatcher, cfg endpoint.Config, events endpoint.Events, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Endpoint{
		addr:     addr,
		identity: identity,
		cfg:      cfg,
		logger:   logger,
		backoff:  newReconnectBackOff(),
	}
	hs := handshaker{reg: reg, identity: identity}

	wrapped := events
	userSuccess := events.OnConnectionSuccess
	userFailure := events.OnConnectionFailure
	userDisconnect := events.OnDisconnection
	wrapped.OnConnectionSuccess = func(b *endpoint.Base) {
		e.backoff.Reset()
		if userSuccess != nil {
			userSuccess(b)
		}
	}
	wrapped.OnConnectionFailure = func(b *endpoint.Base, err error) {
		if userFailure != nil {
			userFailure(b, err)
		}
		e.scheduleReconnect()
	}
	wrapped.OnDisconnection = func(b *endpoint.Base) {
		if userDisconnect != nil {
			userDisconnect(b)
		}
		e.scheduleReconnect()
	}

	e.Base = endpoint.New(ctx, reg, d, hs, cfg, wrapped, logger)
	e.onDialFail = func(err error) {
		if userFailure != nil {
			userFailure(e.Base, err)
		}
	}
	return e
}

// RequestConnection dials addr once under timeout (cfg's ConnectionTimeout
// when timeout is not positive), and on success hands the socket to
// HandleEndConnection.
// Failure or timeout triggers OnConnectionFailure, which schedules a retry.
func (e *Endpoint) RequestConnection(timeout time.Duration) {
	select {
	case <-e.Done():
		return
	default:
	}
	if timeout <= 0 {
		timeout = e.cfg.ConnectionTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		defer cancel()
		conn, err := e.dialer.DialContext(ctx, "tcp", e.addr)
		if err != nil {
			e.logger.Debug("clientendpoint: dial failed", "addr", e.addr, "error", err)
			metrics.IncConnectionFailed()
			metrics.IncError(metrics.ErrDial)
			if e.onDialFail != nil {
				e.onDialFail(err)
			}
			e.scheduleReconnect()
			return
		}
		e.HandleEndConnection(ctx, conn)
	}()
}

func (e *Endpoint) scheduleReconnect() {
	select {
	case <-e.Done():
		return
	default:
	}
	delay := e.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = 30 * time.Second
	}
	time.AfterFunc(delay, func() {
		e.RequestConnection(e.cfg.ConnectionTimeout)
	})
}

// newReconnectBackOff returns an exponential backoff with no elapsed-time
// ceiling: the chain is bounded only by the endpoint's globalCancel, per the
// endpoint's lifecycle contract.
func newReconnectBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}
