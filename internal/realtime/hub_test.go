package realtime

import (
	"log/slog"
	"testing"

	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(logging.NewSlogLogger(slog.New(slog.DiscardHandler)))
}

func TestPublishReachesRoomMembers(t *testing.T) {
	hub := newTestHub()

	var got []Message
	sub := hub.Join("content", func(msg Message) { got = append(got, msg) })
	defer hub.Leave(sub)

	other := hub.Join("settings", func(msg Message) { t.Fatal("wrong room") })
	defer hub.Leave(other)

	hub.Publish("content", "updated", map[string]any{"id": "42"})

	require.Len(t, got, 1)
	require.Equal(t, "content", got[0].Room)
	require.Equal(t, "updated", got[0].Event)
}

func TestDeliveryIsAtMostOncePerPublish(t *testing.T) {
	hub := newTestHub()

	count := 0
	sub := hub.Join("content", func(Message) { count++ })
	defer hub.Leave(sub)

	hub.Publish("content", "a", nil)
	hub.Publish("content", "b", nil)

	require.Equal(t, 2, count)
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := newTestHub()

	sub := hub.Join("content", func(Message) { t.Fatal("delivered after leave") })
	hub.Leave(sub)
	hub.Leave(sub) // idempotent

	hub.Publish("content", "x", nil)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := newTestHub()

	bad := hub.Join("content", func(Message) { panic("boom") })
	defer hub.Leave(bad)

	delivered := false
	good := hub.Join("content", func(Message) { delivered = true })
	defer hub.Leave(good)

	require.NotPanics(t, func() { hub.Publish("content", "x", nil) })
	require.True(t, delivered)
}

func TestCloseDropsRooms(t *testing.T) {
	hub := newTestHub()

	hub.Join("content", func(Message) { t.Fatal("delivered after close") })
	hub.Close()
	hub.Publish("content", "x", nil)
}
