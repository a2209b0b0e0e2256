package remote

import (
	"context"
	"sync"
	"time"

	"github.com/bjpl/offlinekit/internal/events"
	"github.com/bjpl/offlinekit/internal/logging"
)

// NetworkStatus is the payload of a network-status-changed event.
type NetworkStatus struct {
	Online bool `json:"online"`
}

// Prober periodically checks authority reachability and publishes an event
// on every transition. The initial state is offline until a probe succeeds.
type Prober struct {
	client   *Client
	bus      *events.Bus
	log      logging.Logger
	interval time.Duration

	// onTransition runs outside the prober lock when the online state flips.
	onTransition func(online bool)

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewProber(client *Client, bus *events.Bus, log logging.Logger, interval time.Duration, onTransition func(online bool)) *Prober {
	return &Prober{client: client, bus: bus, log: log, interval: interval, onTransition: onTransition}
}

// Online reports the last observed reachability state.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// CheckNow probes the authority immediately and records the result.
func (p *Prober) CheckNow(ctx context.Context) bool {
	online := p.client.Ping(ctx) == nil
	p.set(online)
	return online
}

// Start launches the background probe loop. The first probe runs right
// away rather than after the first interval.
func (p *Prober) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.CheckNow(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckNow(ctx)
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Prober) set(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()

	if !changed {
		return
	}
	p.log.Info(context.Background(), "network status changed", "online", online)
	p.bus.Publish(events.NetworkStatusChanged, NetworkStatus{Online: online})
	if p.onTransition != nil {
		p.onTransition(online)
	}
}
