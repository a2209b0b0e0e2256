// Package offlinekit is an offline-first local data substrate: a local
// document store with interchangeable engines, token-based sessions, an
// interception router that answers API-shaped requests locally while the
// remote authority is unreachable, a durable sync queue that replays local
// writes, and an in-process realtime channel simulator.
package offlinekit

import (
	"context"
	"fmt"

	"github.com/bjpl/offlinekit/internal/config"
	"github.com/bjpl/offlinekit/internal/events"
	"github.com/bjpl/offlinekit/internal/gateway"
	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/realtime"
	"github.com/bjpl/offlinekit/internal/remote"
	"github.com/bjpl/offlinekit/internal/session"
	"github.com/bjpl/offlinekit/internal/store"
	"github.com/bjpl/offlinekit/internal/syncer"
)

// Client owns the whole substrate. Construct with New, release with Close.
type Client struct {
	cfg *config.Config
	log logging.Logger

	store    store.Store
	bus      *events.Bus
	sessions *session.Manager
	remote   *remote.Client
	prober   *remote.Prober
	queue    *syncer.Queue
	engine   *syncer.Engine
	hub      *realtime.Hub
	gateway  *gateway.Gateway

	cancel context.CancelFunc
}

// New wires and starts the substrate: opens the store, seeds baseline data,
// restores a persisted session if one is valid, and launches the
// connectivity prober and the sync engine. The initialized event fires once
// everything is up.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*Client, error) {
	s, err := store.Open(ctx, cfg.DataDir, store.DefaultSchemas(), log)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := store.EnsureSeed(ctx, s, log); err != nil {
		s.Close()
		return nil, fmt.Errorf("seed local store: %w", err)
	}

	bus := events.NewBus()
	sessions := session.NewManager(s, bus, log, []byte(cfg.SecretKey), cfg.TokenValidity)

	rc := remote.NewClient(cfg.RemoteBaseURL, cfg.ProbeTimeout, cfg.RequestTimeout, func() string {
		if sess := sessions.Current(); sess != nil {
			return sess.Token
		}
		return ""
	})

	queue := syncer.NewQueue(s)
	engine := syncer.NewEngine(queue, s, rc, bus, log, syncer.Options{
		Interval:    cfg.SyncInterval,
		MaxAttempts: cfg.SyncMaxAttempts,
		Fanout:      cfg.SyncFanout,
		Strategy:    cfg.ConflictStrategy,
	})
	prober := remote.NewProber(rc, bus, log, cfg.OnlineCheckInterval, engine.OnNetworkChange)
	hub := realtime.NewHub(log)
	gw := gateway.New(s, sessions, queue, rc, prober, hub, engine, log, cfg.PreferLocal)

	c := &Client{
		cfg:      cfg,
		log:      log,
		store:    s,
		bus:      bus,
		sessions: sessions,
		remote:   rc,
		prober:   prober,
		queue:    queue,
		engine:   engine,
		hub:      hub,
		gateway:  gw,
	}

	if sessions.RestoreSession(ctx) {
		log.Info(ctx, "session restored from previous run")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	prober.Start(runCtx)
	engine.Start(runCtx)

	bus.Publish(events.Initialized, nil)
	log.Info(ctx, "substrate initialized", "dataDir", cfg.DataDir, "remote", cfg.RemoteBaseURL)
	return c, nil
}

// Close stops the background loops and releases the store. The persisted
// session is kept so the next start can restore it.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.engine.Stop()
	c.prober.Stop()
	c.sessions.Close()
	c.hub.Close()
	return c.store.Close()
}

// Events subscribes to substrate events; with no kinds, everything.
func (c *Client) Events(kinds ...events.Kind) *events.Subscription {
	return c.bus.Subscribe(kinds...)
}

// Realtime exposes the channel simulator for in-process subscribers.
func (c *Client) Realtime() *realtime.Hub {
	return c.hub
}

// Handler returns the gateway as an http.Handler for serving over a
// listener.
func (c *Client) Handler() *gateway.Gateway {
	return c.gateway
}

// Online reports the last observed authority reachability.
func (c *Client) Online() bool {
	return c.prober.Online()
}

// CheckConnectivity probes the authority immediately instead of waiting for
// the next scheduled probe. A transition kicks the sync engine.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	return c.prober.CheckNow(ctx)
}

// Session returns the active session, or nil.
func (c *Client) Session() *session.Session {
	return c.sessions.Current()
}

// SyncNow drains the sync queue immediately.
func (c *Client) SyncNow(ctx context.Context) (syncer.Result, error) {
	return c.engine.SyncNow(ctx)
}

// RetrySync moves failed queue entries back to pending and triggers a
// drain. Returns the number of entries re-queued.
func (c *Client) RetrySync(ctx context.Context) (int, error) {
	n, err := c.queue.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 && c.prober.Online() {
		c.engine.Kick()
	}
	return n, nil
}
