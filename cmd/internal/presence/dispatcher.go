package presence

import (
	"context"
	"log/slog"
)

// HandlerFunc processes one typed event from a session. Handlers run on the
// session's read loop, so events from a single session are handled strictly
// in arrival order; handlers must not block on I/O.
type HandlerFunc func(ctx context.Context, from *Client, ev Event)

type handlerEntry struct {
	fn        HandlerFunc
	localOnly bool
}

// Dispatcher routes inbound events to handlers by type and then re-broadcasts
// the original event to all other sessions.
//
// Broadcasting is the dispatcher-level default: it happens after the handler
// regardless of which one ran, unless the type was registered local-only.
// Unknown types hit a default handler and are never an error; the wire
// protocol is intentionally open-ended.
type Dispatcher struct {
	log *slog.Logger
	hub *Hub

	// handlers is populated during wiring and read-only afterwards; it is
	// not safe to mutate once the gateway is serving.
	handlers map[string]handlerEntry
}

// NewDispatcher constructs a Dispatcher with the built-in handlers.
func NewDispatcher(log *slog.Logger, hub *Hub) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		hub:      hub,
		handlers: make(map[string]handlerEntry),
	}
	d.Register(EventPosition, d.onPosition)
	return d
}

// Register installs fn for events of the given type.
func (d *Dispatcher) Register(typ string, fn HandlerFunc) {
	d.handlers[typ] = handlerEntry{fn: fn}
}

// RegisterLocal installs fn for events of the given type and scopes the
// event to the handler: it is not re-broadcast to other sessions.
func (d *Dispatcher) RegisterLocal(typ string, fn HandlerFunc) {
	d.handlers[typ] = handlerEntry{fn: fn, localOnly: true}
}

// Handle routes ev to its handler (or the default) and re-broadcasts the
// original frame to every session except the sender's.
func (d *Dispatcher) Handle(ctx context.Context, from *Client, ev Event) {
	entry, known := d.handlers[ev.Type]
	if known {
		metricEventsDispatched.WithLabelValues("handled").Inc()
		entry.fn(ctx, from, ev)
	} else {
		metricEventsDispatched.WithLabelValues("default").Inc()
		d.onUnknown(ctx, from, ev)
	}

	if known && entry.localOnly {
		return
	}
	d.hub.BroadcastExcept(ev, from.Identity)
}

func (d *Dispatcher) onPosition(_ context.Context, from *Client, _ Event) {
	d.log.Debug("dispatch.position", "identity", from.Identity, "session_id", from.SessionID)
}

// onUnknown is the default handler: log and move on.
func (d *Dispatcher) onUnknown(_ context.Context, from *Client, ev Event) {
	d.log.Info("dispatch.unknown_type", "type", ev.Type, "identity", from.Identity)
}
