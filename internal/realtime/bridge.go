package realtime

import (
	"context"
	"net/http"

	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Bridge exposes the hub over websockets so other open contexts (tabs,
// processes) can join rooms. Delivery across the bridge is fire-and-forget:
// a dead socket just drops out of the room.
type Bridge struct {
	hub *Hub
	log logging.Logger
}

func NewBridge(hub *Hub, log logging.Logger) *Bridge {
	return &Bridge{hub: hub, log: log}
}

// ServeHTTP upgrades the connection and relays messages in both
// directions: hub publications fan out to the socket, inbound frames
// publish into the hub. Route pattern: /realtime/{room}.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan Message, 16)
	sub := b.hub.Join(room, func(msg Message) {
		select {
		case outbound <- msg:
		default:
			// Slow socket: drop rather than stall local delivery.
		}
	})
	defer b.hub.Leave(sub)

	go func() {
		defer cancel()
		for {
			var msg Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			msg.Room = room
			b.hub.Publish(msg.Room, msg.Event, msg.Payload)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbound:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}
