// Package realtime simulates a bidirectional broadcast transport: named
// rooms, membership, and message publish. Delivery is synchronous and
// at-most-once per subscriber within this process; cross-context delivery
// goes through the websocket bridge on a best-effort basis.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/bjpl/offlinekit/internal/logging"
)

// Message is a room-scoped broadcast payload.
type Message struct {
	Room    string `json:"room"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Handler receives messages published to a joined room.
type Handler func(msg Message)

// Subscription ties a handler to a room until Leave (or hub Close).
type Subscription struct {
	room    string
	handler Handler
}

// Hub owns rooms and subscriptions.
type Hub struct {
	log logging.Logger

	mu     sync.Mutex
	rooms  map[string]map[*Subscription]struct{}
	closed bool
}

func NewHub(log logging.Logger) *Hub {
	return &Hub{log: log, rooms: make(map[string]map[*Subscription]struct{})}
}

// Join subscribes handler to room.
func (h *Hub) Join(room string, handler Handler) *Subscription {
	sub := &Subscription{room: room, handler: handler}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return sub
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Subscription]struct{})
		h.rooms[room] = members
	}
	members[sub] = struct{}{}
	return sub
}

// Leave removes the subscription; an empty room is dropped.
func (h *Hub) Leave(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[sub.room]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.rooms, sub.room)
		}
	}
}

// Publish delivers msg to every subscriber of the room, at most once each.
// A panicking subscriber does not prevent delivery to the others; the
// failure is logged, never propagated.
func (h *Hub) Publish(room, event string, payload any) {
	msg := Message{Room: room, Event: event, Payload: payload}

	h.mu.Lock()
	members := make([]*Subscription, 0, len(h.rooms[room]))
	for sub := range h.rooms[room] {
		members = append(members, sub)
	}
	h.mu.Unlock()

	for _, sub := range members {
		h.deliver(sub, msg)
	}
}

func (h *Hub) deliver(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error(context.Background(), "realtime subscriber panicked",
				"room", msg.Room, "error", fmt.Sprint(r))
		}
	}()
	sub.handler(msg)
}

// Close drops all rooms and subscriptions (context teardown).
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.rooms = make(map[string]map[*Subscription]struct{})
}
