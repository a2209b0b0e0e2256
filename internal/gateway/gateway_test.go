package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/events"
	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/realtime"
	"github.com/bjpl/offlinekit/internal/remote"
	"github.com/bjpl/offlinekit/internal/session"
	"github.com/bjpl/offlinekit/internal/store"
	"github.com/bjpl/offlinekit/internal/syncer"
)

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.DiscardHandler))
}

type kickSpy struct{ n atomic.Int32 }

func (k *kickSpy) Kick() { k.n.Add(1) }

type fixture struct {
	gw       *Gateway
	store    store.Store
	sessions *session.Manager
	queue    *syncer.Queue
	prober   *remote.Prober
	hub      *realtime.Hub
	kicks    *kickSpy
}

// newFixture wires a gateway against an unreachable authority, so every
// request is served locally.
func newFixture(t *testing.T) *fixture {
	return newFixtureWithRemote(t, "http://127.0.0.1:1", false)
}

func newFixtureWithRemote(t *testing.T, remoteURL string, preferLocal bool) *fixture {
	t.Helper()
	ctx := context.Background()
	log := discardLogger()

	s, err := store.Open(ctx, t.TempDir(), store.DefaultSchemas(), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, store.EnsureSeed(ctx, s, log))

	bus := events.NewBus()
	sessions := session.NewManager(s, bus, log, []byte("test-secret"), time.Hour)
	t.Cleanup(func() { sessions.Close() })

	client := remote.NewClient(remoteURL, 200*time.Millisecond, 2*time.Second, nil)
	prober := remote.NewProber(client, bus, log, time.Hour, nil)
	hub := realtime.NewHub(log)
	kicks := &kickSpy{}
	queue := syncer.NewQueue(s)

	gw := New(s, sessions, queue, client, prober, hub, kicks, log, preferLocal)
	return &fixture{gw: gw, store: s, sessions: sessions, queue: queue, prober: prober, hub: hub, kicks: kicks}
}

func (f *fixture) login(t *testing.T, username, password string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := f.gw.Do(context.Background(), http.MethodPost, "/auth/login", body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status, string(resp.Body))
}

func (f *fixture) do(t *testing.T, method, path string, payload any) *Response {
	t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	resp, err := f.gw.Do(context.Background(), method, path, body)
	require.NoError(t, err)
	return resp
}

func TestLoginAndSession(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": store.SeedAdminUsername, "password": store.SeedAdminPassword,
	})
	require.Equal(t, http.StatusOK, resp.Status)

	var sess sessionBody
	require.NoError(t, resp.Decode(&sess))
	assert.NotEmpty(t, sess.Token)
	assert.NotEmpty(t, sess.UserID)
	require.NotNil(t, sess.User)
	assert.Equal(t, store.SeedAdminUsername, sess.User["username"])
	assert.NotContains(t, sess.User, "passwordHash")

	resp = f.do(t, http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": store.SeedAdminUsername, "password": "nope",
	})
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.True(t, errors.Is(resp.Err(), common.ErrInvalidCredentials))
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/content", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Status)

	var body errorBody
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, CodeUnauthorized, body.Error.Code)
}

func TestRoleForbidsWrites(t *testing.T) {
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	resp := f.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "reader", "password": "secret1", "email": "reader@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.Status)

	f.login(t, "reader", "secret1")

	resp = f.do(t, http.MethodGet, "/content", nil)
	assert.Equal(t, http.StatusOK, resp.Status)

	resp = f.do(t, http.MethodPost, "/content", map[string]any{
		"title": "t", "body": "b", "published": false,
	})
	require.Equal(t, http.StatusForbidden, resp.Status)
	assert.True(t, errors.Is(resp.Err(), common.ErrUnauthorized))
}

func TestContentCRUDQueuesWhileOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	resp := f.do(t, http.MethodPost, "/content", map[string]any{
		"title": "first post", "body": "hello", "published": false,
	})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))

	var created map[string]any
	require.NoError(t, resp.Decode(&created))
	id := created["id"].(string)
	assert.NotEmpty(t, created["authorId"], "author defaults to the caller")

	resp = f.do(t, http.MethodPut, "/content/"+id, map[string]any{"published": true})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = f.do(t, http.MethodGet, "/content/"+id, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var got map[string]any
	require.NoError(t, resp.Decode(&got))
	assert.Equal(t, true, got["published"])
	assert.Equal(t, "first post", got["title"])

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, syncer.OpCreate, pending[0].Op)
	assert.Equal(t, syncer.OpUpdate, pending[1].Op)

	resp = f.do(t, http.MethodDelete, "/content/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.Status)

	pending, err = f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	resp = f.do(t, http.MethodGet, "/content/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	// Offline gateway never nudges the sync engine.
	assert.EqualValues(t, 0, f.kicks.n.Load())
}

func TestContentListFilterSortPaginate(t *testing.T) {
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	titles := []string{"alpha", "beta", "gamma"}
	for i, title := range titles {
		resp := f.do(t, http.MethodPost, "/content", map[string]any{
			"title": title, "body": "b", "published": i%2 == 0,
		})
		require.Equal(t, http.StatusCreated, resp.Status)
	}

	var list struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}

	resp := f.do(t, http.MethodGet, "/content?published=true", nil)
	require.NoError(t, resp.Decode(&list))
	assert.Equal(t, 2, list.Total)

	resp = f.do(t, http.MethodGet, "/content?sortBy=title&order=desc&limit=2", nil)
	require.NoError(t, resp.Decode(&list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "gamma", list.Items[0]["title"])
	assert.Equal(t, "beta", list.Items[1]["title"])

	resp = f.do(t, http.MethodGet, "/content?search=amm", nil)
	require.NoError(t, resp.Decode(&list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "gamma", list.Items[0]["title"])
}

func TestSettingsSingleton(t *testing.T) {
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	resp := f.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var settings map[string]any
	require.NoError(t, resp.Decode(&settings))
	firstID := settings["id"]
	require.NotNil(t, firstID, "seeded settings exist")

	resp = f.do(t, http.MethodPut, "/settings", map[string]any{"theme": "dark"})
	require.Equal(t, http.StatusOK, resp.Status)
	require.NoError(t, resp.Decode(&settings))
	assert.Equal(t, "dark", settings["theme"])
	assert.Equal(t, firstID, settings["id"], "update keeps the singleton record")
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	resp := f.do(t, http.MethodPost, "/content", map[string]any{
		"title": "t", "body": "b", "published": true,
	})
	require.Equal(t, http.StatusCreated, resp.Status)

	resp = f.do(t, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var stats struct {
		ContentCount   int `json:"contentCount"`
		PublishedCount int `json:"publishedCount"`
		UserCount      int `json:"userCount"`
		PendingSync    int `json:"pendingSync"`
	}
	require.NoError(t, resp.Decode(&stats))
	assert.Equal(t, 1, stats.ContentCount)
	assert.Equal(t, 1, stats.PublishedCount)
	assert.Equal(t, 1, stats.UserCount)
	assert.Equal(t, 1, stats.PendingSync)
}

func TestFileUploadAndListing(t *testing.T) {
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	raw := []byte("tiny png bytes")
	resp := f.do(t, http.MethodPost, "/files", map[string]any{
		"name": "logo.png", "contentType": "image/png",
		"data": base64.StdEncoding.EncodeToString(raw),
	})
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))

	var created map[string]any
	require.NoError(t, resp.Decode(&created))
	assert.EqualValues(t, len(raw), created["size"])

	resp = f.do(t, http.MethodGet, "/files", nil)
	var list struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, resp.Decode(&list))
	require.Len(t, list.Items, 1)
	assert.NotContains(t, list.Items[0], "data", "listing strips file payloads")

	resp = f.do(t, http.MethodGet, "/files/"+created["id"].(string), nil)
	var got map[string]any
	require.NoError(t, resp.Decode(&got))
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), got["data"])

	resp = f.do(t, http.MethodPost, "/files", map[string]any{
		"name": "bad", "contentType": "image/png", "data": "@@not-base64@@",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestWritesPublishRealtimeEvents(t *testing.T) {
	f := newFixture(t)
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	got := make(chan realtime.Message, 4)
	sub := f.hub.Join("content", func(msg realtime.Message) { got <- msg })
	defer f.hub.Leave(sub)

	resp := f.do(t, http.MethodPost, "/content", map[string]any{
		"title": "t", "body": "b", "published": false,
	})
	require.Equal(t, http.StatusCreated, resp.Status)

	msg := <-got
	assert.Equal(t, "content", msg.Room)
	assert.Equal(t, "created", msg.Event)
}

func TestProxiesWhenOnline(t *testing.T) {
	var proxied atomic.Int32
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		proxied.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[],"total":0,"source":"authority"}`))
	}))
	defer authority.Close()

	f := newFixtureWithRemote(t, authority.URL, false)
	require.True(t, f.prober.CheckNow(context.Background()))

	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	resp := f.do(t, http.MethodGet, "/content", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	var body map[string]any
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "authority", body["source"])
	assert.EqualValues(t, 1, proxied.Load())

	// Auth stays local even while online.
	resp = f.do(t, http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestPreferLocalSkipsProxy(t *testing.T) {
	var proxied atomic.Int32
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		proxied.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer authority.Close()

	f := newFixtureWithRemote(t, authority.URL, true)
	require.True(t, f.prober.CheckNow(context.Background()))
	f.login(t, store.SeedAdminUsername, store.SeedAdminPassword)

	resp := f.do(t, http.MethodPost, "/content", map[string]any{
		"title": "local", "body": "b", "published": false,
	})
	require.Equal(t, http.StatusCreated, resp.Status)
	assert.EqualValues(t, 0, proxied.Load())

	// Writes landed locally, queued, and the sync engine was nudged.
	assert.EqualValues(t, 1, f.kicks.n.Load())
}

func TestServesOverRealHTTP(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.gw)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["online"])
}
