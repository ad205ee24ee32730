// Package endpoint implements the shared lifecycle every TBNF peer (client
// or host-side remote) is built from: one replaceable TCP socket, a send
// loop and a receive loop running over it, a FIFO of outbound messages with
// a paired latch, and lifecycle events feeding back into reconnection
// policy. Client and remote endpoints differ only in how they handshake a
// freshly accepted/dialed socket, which they supply via Handshaker.
package endpoint

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbnf-go/tbnf/internal/codec"
	"github.com/tbnf-go/tbnf/internal/dispatch"
	"github.com/tbnf-go/tbnf/internal/latch"
	"github.com/tbnf-go/tbnf/internal/messages"
	"github.com/tbnf-go/tbnf/internal/metrics"
	"github.com/tbnf-go/tbnf/internal/queue"
	"github.com/tbnf-go/tbnf/internal/registry"
)

// Handshaker performs whatever side-specific exchange must happen before a
// freshly connected socket is considered ready for ordinary traffic, and
// returns the NetworkIdentifier this endpoint should adopt.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn) (networkIdentifier uint8, err error)
}

// Events are the lifecycle callbacks Base invokes. Every field is optional;
// a nil callback is simply skipped. Callbacks run synchronously on an
// internal goroutine and must not block.
type Events struct {
	OnConnectionSuccess func(*Base)
	OnConnectionFailure func(*Base, error)
	OnDisconnection     func(*Base)
	OnRawMessageSent    func(*Base, registry.Payload)
}

// Config holds the tunables shared by every endpoint.
type Config struct {
	InactivityCheckInterval time.Duration
	ConnectionTimeout       time.Duration
}

const (
	defaultInactivityCheckInterval = 30 * time.Second
	defaultConnectionTimeout       = 10 * time.Second
)

// DefaultConfig returns the package's baseline tunables.
func DefaultConfig() Config {
	return Config{
		InactivityCheckInterval: defaultInactivityCheckInterval,
		ConnectionTimeout:       defaultConnectionTimeout,
	}
}

// Base is embedded by ClientEndpoint and RemoteEndpoint. It owns the
// current socket, the send/receive loops over it, and the message queue.
type Base struct {
	cfg        Config
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	handshaker Handshaker
	events     Events
	logger     *slog.Logger

	globalCtx    context.Context
	globalCancel context.CancelFunc

	mu          sync.Mutex
	conn        net.Conn
	connCancel  context.CancelFunc
	lastActive  time.Time
	netIDOnce   sync.Once
	netIDSet    atomic.Bool
	netID       atomic.Uint32 // holds uint8, atomic.Uint32 for zero-value convenience

	outbound *queue.Queue[registry.Payload]
	signal   *latch.Latch

	wg sync.WaitGroup
}

// New constructs a Base ready to have HandleEndConnection invoked on a
// socket. The caller retains ownership of ctx's cancellation: cancelling it
// disposes the endpoint exactly like calling Dispose.
func New(ctx context.Context, reg *registry.Registry, dispatcher *dispatch.Dispatcher, handshaker Handshaker, cfg Config, events Events, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	globalCtx, cancel := context.WithCancel(ctx)
	b := &Base{
		cfg:          cfg,
		reg:          reg,
		dispatcher:   dispatcher,
		handshaker:   handshaker,
		events:       events,
		logger:       logger,
		globalCtx:    globalCtx,
		globalCancel: cancel,
		outbound:     queue.New[registry.Payload](),
		signal:       latch.New(),
		lastActive:   time.Now(),
	}
	go func() {
		<-globalCtx.Done()
		b.closeCurrentSocket()
	}()
	return b
}

// Enqueue queues a message for transmission on the current (or next)
// socket. Safe to call while disconnected; the message is held until a
// connection succeeds.
func (b *Base) Enqueue(msg registry.Payload) {
	b.outbound.Enqueue(msg)
	b.signal.Increment()
}

// NetworkIdentifier returns the identifier adopted during handshake, and
// whether one has been set yet.
func (b *Base) NetworkIdentifier() (uint8, bool) {
	if !b.netIDSet.Load() {
		return 0, false
	}
	return uint8(b.netID.Load()), true
}

func (b *Base) setNetworkIdentifier(id uint8) {
	b.netIDOnce.Do(func() {
		b.netID.Store(uint32(id))
		b.netIDSet.Store(true)
	})
}

// ForceDisconnection closes the current socket, used by tests and to
// provoke a reconnect cycle.
func (b *Base) ForceDisconnection() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		// The socket stays current so the exiting loops report OnDisconnection.
		_ = conn.Close()
	}
}

// Dispose cancels the endpoint's lifetime permanently: the current socket
// is closed, its loops stop, and no further HandleEndConnection call will
// do anything useful.
func (b *Base) Dispose() {
	b.globalCancel()
}

// Done reports whether the endpoint has been disposed.
func (b *Base) Done() <-chan struct{} {
	return b.globalCtx.Done()
}

func (b *Base) closeCurrentSocket() {
	b.mu.Lock()
	conn := b.conn
	cancel := b.connCancel
	b.conn = nil
	b.connCancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// HandleEndConnection adopts conn as the endpoint's current socket: any
// prior socket is replaced (which cancels its loops and closes it), the
// handshake runs under ctx, and on success the send/receive loops start
// under a fresh context scoped to the endpoint's global lifetime (not to
// ctx, whose timeout should bound only connect+handshake).
func (b *Base) HandleEndConnection(ctx context.Context, conn net.Conn) {
	if b.globalCtx.Err() != nil {
		_ = conn.Close()
		return
	}

	// Blocking reads and writes do not watch ctx, so its end is turned into
	// a socket deadline for the duration of the handshake.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	networkID, err := b.handshaker.Handshake(ctx, conn)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		metrics.IncConnectionFailed()
		metrics.IncError(metrics.ErrHandshake)
		if b.events.OnConnectionFailure != nil {
			b.events.OnConnectionFailure(b, err)
		}
		return
	}
	metrics.IncConnectionSucceeded()
	b.setNetworkIdentifier(networkID)

	connCtx, connCancel := context.WithCancel(b.globalCtx)
	b.closeCurrentSocket()
	b.mu.Lock()
	b.conn = conn
	b.connCancel = connCancel
	b.lastActive = time.Now()
	b.mu.Unlock()

	if b.events.OnConnectionSuccess != nil {
		b.events.OnConnectionSuccess(b)
	}

	b.wg.Add(2)
	go b.sendLoop(connCtx, conn)
	go b.receiveLoop(connCtx, conn)
}

func (b *Base) currentLastActive() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActive
}

func (b *Base) touchLastActive() {
	b.mu.Lock()
	b.lastActive = time.Now()
	b.mu.Unlock()
}

func (b *Base) sendLoop(ctx context.Context, conn net.Conn) {
	defer b.wg.Done()
	defer b.onLoopExit(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		elapsed := time.Since(b.currentLastActive())
		timeout := b.cfg.InactivityCheckInterval - elapsed
		if timeout < 0 {
			timeout = 0
		}

		signalled := b.signal.Wait(timeout)
		if ctx.Err() != nil {
			return
		}

		if signalled {
			head, ok := b.outbound.TryPeek()
			if !ok {
				// Another goroutine raced us to the decrement; loop again.
				continue
			}
			if codec.WriteMessage(ctx, conn, b.reg, head) {
				b.outbound.TryDequeue()
				b.signal.Decrement()
				b.touchLastActive()
				metrics.IncFrameSent()
				metrics.SetQueueDepth(b.outbound.Len())
				if b.events.OnRawMessageSent != nil {
					b.events.OnRawMessageSent(b, head)
				}
			} else if ctx.Err() == nil {
				metrics.IncError(metrics.ErrFrameWrite)
			}
			continue
		}

		if time.Since(b.currentLastActive()) > b.cfg.InactivityCheckInterval {
			if codec.WriteMessage(ctx, conn, b.reg, &messages.InactivityCheckMessage{}) {
				b.touchLastActive()
			}
		}
	}
}

func (b *Base) receiveLoop(ctx context.Context, conn net.Conn) {
	defer b.wg.Done()
	defer b.onLoopExit(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, ok := codec.ReadMessage(ctx, conn, b.reg)
		if !ok {
			if ctx.Err() == nil {
				metrics.IncError(metrics.ErrFrameRead)
			}
			return
		}
		if msg == nil {
			metrics.IncMalformed()
			continue
		}
		metrics.IncFrameReceived()
		if b.dispatcher != nil {
			b.dispatcher.Handle(b, msg)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *Base) onLoopExit(conn net.Conn) {
	b.mu.Lock()
	isCurrent := b.conn == conn
	cancel := b.connCancel
	if isCurrent {
		b.conn = nil
		b.connCancel = nil
	}
	b.mu.Unlock()
	if isCurrent {
		// Stop the sibling loop and release the socket before reporting.
		if cancel != nil {
			cancel()
		}
		_ = conn.Close()
		metrics.IncDisconnection()
		if b.events.OnDisconnection != nil {
			b.events.OnDisconnection(b)
		}
	}
}

// waitLoops blocks until both loops of the current socket (if any) have
// exited. Exposed for tests that need deterministic shutdown.
func (b *Base) waitLoops() {
	b.wg.Wait()
}
