// Package dispatch routes a decoded message to a per-variant handler
// function, falling back to a default handler for anything not explicitly
// bound. Binding happens once, at construction, so a duplicate or
// conflicting binding is a programmer error caught immediately rather than
// silently overwriting a handler at runtime.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tbnf-go/tbnf/internal/registry"
)

// ErrDuplicateHandler is returned by Bind/Ignore when a TypeTag already has
// a handler or ignore-sink bound.
var ErrDuplicateHandler = errors.New("dispatch: duplicate handler for type tag")

// Endpoint is the minimal surface a Handler needs; it is satisfied by
// *endpoint.Base without dispatch importing the endpoint package.
type Endpoint interface {
	NetworkIdentifier() (uint8, bool)
}

// Handler processes one decoded message received on ep. Handle never
// invokes a Handler with a nil msg; a nil read result is treated as a
// cancelled read and returned on immediately.
type Handler func(ep Endpoint, msg registry.Payload)

// Dispatcher holds the TypeTag -> Handler table plus the fallback invoked
// for anything unbound.
type Dispatcher struct {
	reg *registry.Registry

	mu       sync.RWMutex
	handlers map[registry.TypeTag]Handler

	// Default is invoked when no binding exists for a message's tag.
	// Overridable; defaults to a diagnostic log line.
	Default Handler
}

// New returns a Dispatcher bound to reg, with a log-and-continue default
// handler.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		handlers: make(map[registry.TypeTag]Handler),
		Default:  defaultHandler,
	}
}

func defaultHandler(ep Endpoint, msg registry.Payload) {
	slog.Debug("dispatch: unhandled message", "type", registry.NameOf(msg))
}

// Bind registers h to handle every message whose runtime type matches
// sample's. sample is used only to derive the variant name passed to
// Registry.TagOfName; it is never retained.
func (d *Dispatcher) Bind(sample registry.Payload, h Handler) error {
	tag, ok := d.reg.TagOf(sample)
	if !ok {
		return fmt.Errorf("dispatch: %s is not registered", registry.NameOf(sample))
	}
	return d.bindTag(tag, registry.NameOf(sample), h)
}

// Ignore binds sample's tag to a no-op handler, so messages of that type are
// silently dropped instead of falling through to Default.
func (d *Dispatcher) Ignore(sample registry.Payload) error {
	return d.Bind(sample, func(Endpoint, registry.Payload) {})
}

func (d *Dispatcher) bindTag(tag registry.TypeTag, name string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[tag]; exists {
		return fmt.Errorf("%w: %s (tag %d)", ErrDuplicateHandler, name, tag)
	}
	d.handlers[tag] = h
	return nil
}

// Handle routes msg to its bound handler, or Default if its tag has no
// binding. A nil msg (a cancelled or failed read) is treated as a no-op:
// Handle returns immediately without invoking Default.
func (d *Dispatcher) Handle(ep Endpoint, msg registry.Payload) {
	if msg == nil {
		return
	}
	tag, ok := d.reg.TagOf(msg)
	if !ok {
		d.Default(ep, msg)
		return
	}
	d.mu.RLock()
	h, ok := d.handlers[tag]
	d.mu.RUnlock()
	if !ok {
		d.Default(ep, msg)
		return
	}
	h(ep, msg)
}

// BindTyped binds a handler whose signature is fixed to T at compile time,
// sparing callers a type assertion inside the handler body. sample supplies
// the tag to bind against; the registry's own factory (not sample) builds
// the instance passed to fn.
func BindTyped[T registry.Payload](d *Dispatcher, sample T, fn func(ep Endpoint, msg T)) error {
	return d.Bind(sample, func(ep Endpoint, msg registry.Payload) {
		typed, ok := msg.(T)
		if !ok {
			slog.Error("dispatch: bound handler received mismatched type", "want", registry.NameOf(sample), "got", registry.NameOf(msg))
			return
		}
		fn(ep, typed)
	})
}
