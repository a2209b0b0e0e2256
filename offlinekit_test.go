package offlinekit_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjpl/offlinekit"
	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/config"
	"github.com/bjpl/offlinekit/internal/events"
	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/realtime"
	"github.com/bjpl/offlinekit/internal/store"
	"github.com/bjpl/offlinekit/internal/syncer"
)

// authority is a minimal in-memory remote backend with a reachability
// switch.
type authority struct {
	mu      sync.Mutex
	healthy bool
	records map[string]map[string]map[string]any
}

func newAuthority() *authority {
	return &authority{records: make(map[string]map[string]map[string]any)}
}

func (a *authority) setHealthy(v bool) {
	a.mu.Lock()
	a.healthy = v
	a.mu.Unlock()
}

func (a *authority) get(collection, id string) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.records[collection][id]
	return obj, ok
}

func (a *authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	healthy := a.healthy
	a.mu.Unlock()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if r.URL.Path == "/health" {
		w.WriteHeader(http.StatusOK)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	collection := parts[0]
	if collection == "files" {
		collection = "media"
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && len(parts) == 1:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		id, _ := body["id"].(string)
		body["createdAt"], body["updatedAt"] = now, now
		if a.records[collection] == nil {
			a.records[collection] = make(map[string]map[string]any)
		}
		a.records[collection][id] = body
		json.NewEncoder(w).Encode(body)

	case r.Method == http.MethodGet && len(parts) == 2:
		obj, ok := a.records[collection][parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(obj)

	case r.Method == http.MethodPut && len(parts) == 2:
		obj, ok := a.records[collection][parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body {
			obj[k] = v
		}
		obj["updatedAt"] = now
		json.NewEncoder(w).Encode(obj)

	case r.Method == http.MethodDelete && len(parts) == 2:
		delete(a.records[collection], parts[1])
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testConfig(t *testing.T, remoteURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.RemoteBaseURL = remoteURL
	cfg.SecretKey = "test-secret"
	cfg.TokenValidity = time.Hour
	cfg.OnlineCheckInterval = time.Hour
	cfg.SyncInterval = time.Hour
	cfg.ProbeTimeout = 200 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newClient(t *testing.T, cfg *config.Config) *offlinekit.Client {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	c, err := offlinekit.New(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOfflineWritesSyncWhenConnectivityReturns(t *testing.T) {
	ctx := context.Background()
	backend := newAuthority()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	c := newClient(t, cfg)

	assert.False(t, c.Online())

	_, err := c.Login(ctx, store.SeedAdminUsername, store.SeedAdminPassword)
	require.NoError(t, err)

	synced := c.Events(events.SyncCompleted)
	defer synced.Close()

	created, err := c.CreateContent(ctx, models.Content{
		Title: "written offline", Body: "body", AuthorID: "1",
	})
	require.NoError(t, err)
	id := created["id"].(string)

	stats, err := c.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingSync)

	// Connectivity returns; the transition kicks the engine.
	backend.setHealthy(true)
	require.True(t, c.CheckConnectivity(ctx))

	select {
	case ev := <-synced.C:
		res := ev.Payload.(syncer.Result)
		assert.Equal(t, 1, res.Synced)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not complete")
	}

	obj, ok := backend.get("content", id)
	require.True(t, ok, "record reached the authority")
	assert.Equal(t, "written offline", obj["title"])

	stats, err = c.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingSync)
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backend := newAuthority()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)

	log := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	first, err := offlinekit.New(ctx, cfg, log)
	require.NoError(t, err)

	sess, err := first.Login(ctx, store.SeedAdminUsername, store.SeedAdminPassword)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NoError(t, first.Close())

	second := newClient(t, cfg)
	restored := second.Session()
	require.NotNil(t, restored, "session restored from the persisted token")
	assert.Equal(t, sess.UserID, restored.UserID)
	assert.True(t, second.HasPermission("settings.write"))
}

func TestLoginEmitsEvents(t *testing.T) {
	backend := newAuthority()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := newClient(t, testConfig(t, srv.URL))
	sub := c.Events(events.LoginSuccess, events.AuthenticationChanged)
	defer sub.Close()

	_, err := c.Login(context.Background(), store.SeedAdminUsername, store.SeedAdminPassword)
	require.NoError(t, err)

	kinds := map[events.Kind]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.C:
			kinds[ev.Kind] = true
		case <-time.After(time.Second):
			t.Fatal("missing events")
		}
	}
	assert.True(t, kinds[events.LoginSuccess])
	assert.True(t, kinds[events.AuthenticationChanged])
}

func TestRequestSurfacesSentinelErrors(t *testing.T) {
	backend := newAuthority()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := newClient(t, testConfig(t, srv.URL))
	ctx := context.Background()

	_, err := c.Login(ctx, store.SeedAdminUsername, "wrong")
	assert.True(t, errors.Is(err, common.ErrInvalidCredentials))

	_, err = c.Login(ctx, store.SeedAdminUsername, store.SeedAdminPassword)
	require.NoError(t, err)

	_, err = c.GetContentByID(ctx, "missing")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRealtimeFansOutLocalWrites(t *testing.T) {
	backend := newAuthority()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := newClient(t, testConfig(t, srv.URL))
	ctx := context.Background()

	_, err := c.Login(ctx, store.SeedAdminUsername, store.SeedAdminPassword)
	require.NoError(t, err)

	got := make(chan string, 4)
	sub := c.Realtime().Join("content", func(msg realtime.Message) {
		got <- msg.Event
	})
	defer c.Realtime().Leave(sub)

	_, err = c.CreateContent(ctx, models.Content{Title: "t", Body: "b", AuthorID: "1"})
	require.NoError(t, err)

	select {
	case event := <-got:
		assert.Equal(t, "created", event)
	case <-time.After(time.Second):
		t.Fatal("no realtime message")
	}
}
