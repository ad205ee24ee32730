// Package host implements the passive, listening side of TBNF: an
// Authenticator accepts TCP connections, identifies each one by hardware
// address, and either registers a brand-new RemoteEndpoint or hands the
// socket to an existing one for reconnection.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tbnf-go/tbnf/internal/codec"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/endpoint"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/metrics"
	"github.com/tbnf-go/tbnf/internal/registry"
	"github.com/tbnf-go/tbnf/internal/remoteendpoint"
)

// identificationCeiling bounds the read of the client's identification
// frame regardless of configured timeouts; it is never the caller's to
// tune, per the fixed 20-second ceiling this authenticator enforces on
// every accepted socket before it is trusted with anything else.
const identificationCeiling = 20 * time.Second

var (
	// ErrListen wraps a listener setup failure.
	ErrListen = errors.New("host: listen")
	// ErrAccept wraps a non-fatal accept failure logged and retried.
	ErrAccept = errors.New("host: accept")
)

// Option configures an Authenticator at construction time.
type Option func(*Authenticator)

// WithInactivityCheckInterval overrides the interval forwarded into every
// RemoteEndpoint this authenticator creates.
func WithInactivityCheckInterval(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.cfg.InactivityCheckInterval = d
		}
	}
}

// WithConnectionTimeout overrides the connect/handshake timeout forwarded
// into every RemoteEndpoint this authenticator creates.
func WithConnectionTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.cfg.ConnectionTimeout = d
		}
	}
}

// WithLogger overrides the authenticator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRemoteEvents supplies the Events every RemoteEndpoint this
// authenticator creates will be constructed with.
func WithRemoteEvents(events endpoint.Events) Option {
	return func(a *Authenticator) { a.remoteEvents = events }
}

// OnNewClientRegistered, if set, fires exactly once per distinct hardware
// address the first time it registers (never on a subsequent reconnect).
type OnNewClientRegistered func(a *Authenticator, ep *remoteendpoint.Endpoint)

// Authenticator is the host-side TCP listener coordinating identification
// and RemoteEndpoint lifecycle.
type Authenticator struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	cfg        endpoint.Config
	logger     *slog.Logger

	remoteEvents endpoint.Events
	OnRegistered OnNewClientRegistered

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	listener    net.Listener
	table       map[[6]byte]*remoteendpoint.Endpoint
	nextID      uint8
	listenAddr  string
	readyOnce   sync.Once
	readyCh     chan struct{}
	wg          sync.WaitGroup
}

// New constructs an Authenticator that will listen on listenAddr (e.g.
// ":9876" or "127.0.0.1:0") once Start is called.
func New(ctx context.Context, listenAddr string, reg *registry.Registry, d *dispatch.Dispatcher, opts ...Option) *Authenticator {
	actx, cancel := context.WithCancel(ctx)
	a := &Authenticator{
		reg:        reg,
		dispatcher: d,
		cfg:        endpoint.DefaultConfig(),
		logger:     slog.Default(),
		listenAddr: listenAddr,
		ctx:        actx,
		cancel:     cancel,
		table:      make(map[[6]byte]*remoteendpoint.Endpoint),
		readyCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ready is closed once the listener is bound and the accept loop is about
// to start.
func (a *Authenticator) Ready() <-chan struct{} { return a.readyCh }

// Addr returns the bound listen address, valid only after Ready is closed.
func (a *Authenticator) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return a.listenAddr
	}
	return a.listener.Addr().String()
}

// Start binds the listener and launches the accept loop in the background.
func (a *Authenticator) Start() error {
	ln, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	a.readyOnce.Do(func() { close(a.readyCh) })
	a.logger.Info("host: listening", "addr", ln.Addr().String())

	go func() { <-a.ctx.Done(); _ = ln.Close() }()

	a.wg.Add(1)
	go a.acceptLoop(ln)
	return nil
}

func (a *Authenticator) acceptLoop(ln net.Listener) {
	defer a.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if a.ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			a.logger.Warn("host: accept error", "error", fmt.Errorf("%w: %v", ErrAccept, err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		a.wg.Add(1)
		go a.handleAccepted(conn)
	}
}

func (a *Authenticator) handleAccepted(conn net.Conn) {
	defer a.wg.Done()

	identCtx, cancel := context.WithTimeout(a.ctx, identificationCeiling)
	defer cancel()

	// A blocking read does not watch identCtx, so its end (the ceiling or
	// Dispose) is turned into a read deadline on the socket.
	stop := context.AfterFunc(identCtx, func() { _ = conn.SetReadDeadline(time.Now()) })
	msg, ok := codec.ReadMessage(identCtx, conn, a.reg)
	if !stop() || !ok {
		_ = conn.Close()
		return
	}
	ident, isIdent := msg.(*messages.IdentificationMessage)
	if !isIdent {
		a.logger.Warn("host: first frame was not an identification message")
		metrics.IncError(metrics.ErrHandshake)
		_ = conn.Close()
		return
	}

	a.mu.Lock()
	existing, known := a.table[ident.HardwareAddress]
	a.mu.Unlock()

	if known {
		existing.Reconnect(a.ctx, conn)
		return
	}

	a.mu.Lock()
	networkID := a.nextID
	a.nextID++
	a.mu.Unlock()

	ep := remoteendpoint.New(a.ctx, ident.HardwareAddress, networkID, conn, a.reg, a.dispatcher, a.cfg, a.remoteEvents, a.logger)

	a.mu.Lock()
	a.table[ident.HardwareAddress] = ep
	count := len(a.table)
	a.mu.Unlock()
	metrics.SetRegisteredClients(count)

	if a.OnRegistered != nil {
		a.OnRegistered(a, ep)
	}
}

// Lookup returns the RemoteEndpoint registered for hwAddr, if any.
func (a *Authenticator) Lookup(hwAddr [6]byte) (*remoteendpoint.Endpoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ep, ok := a.table[hwAddr]
	return ep, ok
}

// Count returns the number of distinct registered identities.
func (a *Authenticator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// Dispose stops the listener, disposes every RemoteEndpoint, and cancels
// the authenticator's own context. It blocks until the accept loop and all
// in-flight handleAccepted calls have returned.
func (a *Authenticator) Dispose() {
	a.cancel()
	a.mu.Lock()
	ln := a.listener
	a.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ep := range a.table {
		ep.Dispose()
	}
}
