package presence

import (
	"encoding/json"
	"errors"
	"strings"
)

// Reserved event types used by the session lifecycle itself. Everything
// else is domain-opaque and dispatched by type-name lookup.
const (
	// EventLogin announces a peer joining (presence-join).
	EventLogin = "login"
	// EventLogout announces a peer leaving (presence-leave).
	EventLogout = "logout"
	// EventConnectionReplaced notifies a session it was superseded by a
	// newer connection for the same identity.
	EventConnectionReplaced = "connection_replaced"
	// EventSendPosition is the welcome message asking the new client for
	// its current position.
	EventSendPosition = "send_position"
	// EventPosition is a client position update.
	EventPosition = "position"
)

// Event parse errors.
var (
	ErrBadEventJSON     = errors.New("event: invalid JSON")
	ErrMissingEventType = errors.New("event: missing event type")
)

// Event is one wire frame: a flat JSON object carrying an "event"
// discriminator plus free-form payload fields.
//
// The raw bytes are retained so re-broadcast forwards the sender's original
// frame unmodified.
type Event struct {
	Type string

	raw json.RawMessage
}

// ParseEvent decodes a received text frame into an Event.
func ParseEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, ErrBadEventJSON
	}
	if strings.TrimSpace(head.Type) == "" {
		return Event{}, ErrMissingEventType
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Event{Type: head.Type, raw: raw}, nil
}

// NewEvent builds a server-originated event. The discriminator field is set
// from typ; fields must not contain an "event" key of their own.
func NewEvent(typ string, fields map[string]any) Event {
	obj := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		obj[k] = v
	}
	obj["event"] = typ

	raw, err := json.Marshal(obj)
	if err != nil {
		// Only possible with unmarshalable field values, which would be a
		// programming error; emit the bare discriminator instead.
		raw, _ = json.Marshal(map[string]string{"event": typ})
	}
	return Event{Type: typ, raw: raw}
}

// Bytes returns the wire representation of the event.
func (e Event) Bytes() []byte { return e.raw }

// Decode unmarshals the full event object into v.
func (e Event) Decode(v any) error { return json.Unmarshal(e.raw, v) }
