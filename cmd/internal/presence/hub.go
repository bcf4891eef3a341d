// Package presence contains Beacon's realtime core: the session registry
// (Hub), the event codec and dispatcher, and the WebSocket gateway that runs
// each connection's lifecycle.
package presence

import (
	"log/slog"
	"sort"
	"sync"
)

// Hub owns the identity -> live session mapping and is the only component
// allowed to mutate it. At most one non-closed session exists per identity
// at any instant; duplicate registrations are arbitrated new-wins.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// slot serializes registration changes for a single identity. Holding
// slot.mu is the identity-scoped critical section: registrations for
// different identities proceed independently.
type slot struct {
	mu      sync.Mutex
	defunct bool
	cur     *Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		slots: make(map[string]*slot),
	}
}

// slotFor returns the live slot for identity, creating it when absent.
func (h *Hub) slotFor(identity string) *slot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.slots[identity]
	if s == nil {
		s = &slot{}
		h.slots[identity] = s
	}
	return s
}

// Register installs c as the single live session for identity.
//
// If another session is already live, arbitration runs new-wins: the old
// client is notified with a connection_replaced event, closed with the
// superseded status, and only then is c installed. The whole sequence holds
// the identity slot, so Register never returns before the old channel is
// fully evicted.
func (h *Hub) Register(identity string, c *Client) bool {
	if identity == "" || c == nil {
		return false
	}

	for {
		s := h.slotFor(identity)
		s.mu.Lock()
		if s.defunct {
			// Lost a race with slot reclamation; fetch a fresh slot.
			s.mu.Unlock()
			continue
		}

		old := s.cur
		if old != nil {
			old.supersede(NewEvent(EventConnectionReplaced, map[string]any{
				"message": "a newer connection was established for this identity",
				"reason":  "new connection from same user",
			}))
			metricSessionsSuperseded.Inc()
		}
		s.cur = c
		s.mu.Unlock()

		if old == nil {
			metricSessionsOpen.Inc()
		}
		h.log.Info("hub.session.register",
			"identity", identity,
			"session_id", c.SessionID,
			"superseded", old != nil,
		)
		return true
	}
}

// Unregister removes the session only when the registered client is still c.
// The pointer guard keeps a superseded connection's deferred cleanup from
// evicting the newer session installed in its place. Safe to call twice.
func (h *Hub) Unregister(identity string, c *Client) bool {
	if identity == "" || c == nil {
		return false
	}

	h.mu.Lock()
	s := h.slots[identity]
	h.mu.Unlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	removed := s.cur == c
	if removed {
		s.cur = nil
	}
	s.mu.Unlock()

	if removed {
		c.Close()
		h.reclaim(identity, s)
		metricSessionsOpen.Dec()
		h.log.Info("hub.session.unregister", "identity", identity, "session_id", c.SessionID)
	}
	return removed
}

// reclaim drops an empty slot from the map. Lock order is hub.mu then
// slot.mu; Register handles the resulting stale-slot window via defunct.
func (h *Hub) reclaim(identity string, s *slot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.slots[identity] != s {
		return
	}

	s.mu.Lock()
	if s.cur == nil {
		s.defunct = true
		delete(h.slots, identity)
	}
	s.mu.Unlock()
}

// IsCurrent reports whether c is the registered session for identity.
func (h *Hub) IsCurrent(identity string, c *Client) bool {
	return h.Current(identity) == c && c != nil
}

// Current returns the registered session for identity, or nil.
func (h *Hub) Current(identity string) *Client {
	h.mu.Lock()
	s := h.slots[identity]
	h.mu.Unlock()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// SendTo delivers ev to the single session for identity, if any. A client
// found already shut down is treated as a disconnect and unregistered
// (self-healing against stale entries).
func (h *Hub) SendTo(identity string, ev Event) bool {
	c := h.Current(identity)
	if c == nil {
		return false
	}

	if c.Closed() {
		h.Unregister(identity, c)
		return false
	}
	if !c.TrySend(ev) {
		metricEventsDropped.Inc()
		return false
	}
	return true
}

// BroadcastExcept delivers ev to every live session other than excluded.
//
// Dead clients found mid-iteration are removed afterwards but never abort
// delivery to the remaining sessions; a full queue drops for that recipient
// only. Iteration works over a snapshot, so concurrent register/unregister
// of other entries is safe.
func (h *Hub) BroadcastExcept(ev Event, excluded string) {
	type member struct {
		identity string
		client   *Client
	}

	h.mu.Lock()
	snapshot := make([]member, 0, len(h.slots))
	for identity, s := range h.slots {
		if identity == excluded {
			continue
		}
		s.mu.Lock()
		if s.cur != nil {
			snapshot = append(snapshot, member{identity: identity, client: s.cur})
		}
		s.mu.Unlock()
	}
	h.mu.Unlock()

	var dead []member
	for _, m := range snapshot {
		if m.client.Closed() {
			dead = append(dead, m)
			continue
		}
		if !m.client.TrySend(ev) {
			metricEventsDropped.Inc()
		}
	}

	for _, m := range dead {
		if h.Unregister(m.identity, m.client) {
			h.log.Info("hub.session.reap", "identity", m.identity, "session_id", m.client.SessionID)
		}
	}
}

// Identities returns a sorted snapshot of identities with a live session.
func (h *Hub) Identities() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.slots))
	for identity, s := range h.slots {
		s.mu.Lock()
		if s.cur != nil {
			out = append(out, identity)
		}
		s.mu.Unlock()
	}
	h.mu.Unlock()

	sort.Strings(out)
	return out
}

// Len reports the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, s := range h.slots {
		s.mu.Lock()
		if s.cur != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
