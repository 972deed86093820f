// Package realtime delivers events to connected WebSocket clients.
//
// Delivery is organized around broadcast groups: every connection joins the
// group named after its authenticated user, so emitting to a group reaches
// all of that user's open tabs and devices and nobody else. Delivery is best
// effort — a slow or disconnected client is dropped, never waited on.
//
// Scaling across processes goes through a Redis pub/sub backplane (see
// backplane.go): local emits are published to a shared channel and every
// process replays them to its own members of the group.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Envelope is the wire format pushed to clients and relayed on the
// backplane.
type Envelope struct {
	Group   string          `json:"group"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// client is one WebSocket connection's send side. The buffered channel
// decouples emitters from socket writes; a full buffer means the client is
// too slow and the message is dropped for that client.
type client struct {
	send chan Envelope
}

// sendBuffer bounds per-client queued messages.
const sendBuffer = 32

// Hub tracks group membership for this process. Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*client]struct{})}
}

// join registers c as a member of group.
func (h *Hub) join(group string, c *client) {
	if group == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
}

// leave removes c from group, dropping the group when it empties.
func (h *Hub) leave(group string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// remove drops c from every group it joined and closes its send channel.
// Closing under the write lock cannot interleave with Emit, which sends
// under the read lock.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for group, members := range h.groups {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	close(c.send)
}

// Emit delivers an envelope to the local members of its group. Clients whose
// send buffer is full are skipped; the dropped count is logged. The sends are
// non-blocking, so holding the read lock across them is cheap and keeps
// remove from closing a channel mid-send.
func (h *Hub) Emit(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.groups[env.Group] {
		select {
		case c.send <- env:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn().
			Str("group", env.Group).
			Str("event", env.Event).
			Int("dropped", dropped).
			Msg("slow realtime clients skipped")
	}
}

// GroupSize reports the number of local members of group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
