package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingKinds(t *testing.T) {
	bus := NewBus()

	sub := bus.Subscribe(LoginSuccess)
	defer sub.Close()

	bus.Publish(LogoutSuccess, nil)
	bus.Publish(LoginSuccess, "payload")

	select {
	case ev := <-sub.C:
		require.Equal(t, LoginSuccess, ev.Kind)
		require.Equal(t, "payload", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected extra event: %v", ev.Kind)
	default:
	}
}

func TestSubscribeAllKinds(t *testing.T) {
	bus := NewBus()

	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(SyncCompleted, nil)
	bus.Publish(NetworkStatusChanged, true)

	require.Equal(t, SyncCompleted, (<-sub.C).Kind)
	require.Equal(t, NetworkStatusChanged, (<-sub.C).Kind)
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()

	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*3; i++ {
			bus.Publish(SyncCompleted, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestCloseDetaches(t *testing.T) {
	bus := NewBus()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // double close is safe

	require.NotPanics(t, func() { bus.Publish(Initialized, nil) })
}
