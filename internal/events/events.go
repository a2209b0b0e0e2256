// Package events provides the typed event channel surfaced to the UI layer.
// Event kinds are an enumerated set rather than ad hoc string-keyed
// listener maps; consumers subscribe explicitly and receive events over a
// buffered channel.
package events

import (
	"sync"
	"time"
)

// Kind enumerates the events the substrate emits.
type Kind string

const (
	Initialized           Kind = "initialized"
	LoginSuccess          Kind = "login-success"
	LoginError            Kind = "login-error"
	LogoutSuccess         Kind = "logout-success"
	SyncCompleted         Kind = "sync-completed"
	SyncError             Kind = "sync-error"
	NetworkStatusChanged  Kind = "network-status-changed"
	AuthenticationChanged Kind = "authentication-changed"
)

// Event couples a kind with its payload.
type Event struct {
	Kind    Kind
	Payload any
	At      time.Time
}

// Subscription receives events on C until Close is called. The channel is
// buffered; if the subscriber falls behind, newer events are dropped for it
// rather than blocking publishers.
type Subscription struct {
	C chan Event

	bus   *Bus
	kinds map[Kind]struct{}
	once  sync.Once
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.C)
	})
}

func (s *Subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus is a process-local publish/subscribe channel for substrate events.
// The zero value is not usable; construct with NewBus.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

const subscriptionBuffer = 16

// Subscribe registers interest in the given kinds; with no kinds, the
// subscription receives everything.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		C:     make(chan Event, subscriptionBuffer),
		bus:   b,
		kinds: make(map[Kind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish delivers the event to every interested subscriber. Delivery is
// best effort: a full subscriber buffer drops the event for that subscriber
// only.
func (b *Bus) Publish(kind Kind, payload any) {
	ev := Event{Kind: kind, Payload: payload, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.wants(kind) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
		}
	}
}
