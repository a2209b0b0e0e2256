// Package gateway is the interception layer: a chi router that answers the
// application's requests from the local store when the remote authority is
// unreachable (or when local-first mode is on), and proxies them through
// unmodified when it is. The same router doubles as a real http.Handler so
// the binary can serve it over the network.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/realtime"
	"github.com/bjpl/offlinekit/internal/remote"
	"github.com/bjpl/offlinekit/internal/session"
	"github.com/bjpl/offlinekit/internal/store"
	"github.com/bjpl/offlinekit/internal/syncer"
)

// Response is the in-process answer to a gateway request.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// OK reports whether the status is a 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Err converts a non-2xx response into a sentinel-tagged error using the
// structured error body.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	var body errorBody
	if err := json.Unmarshal(r.Body, &body); err != nil || body.Error.Code == "" {
		return fmt.Errorf("%w: status %d", common.ErrInternal, r.Status)
	}
	var sentinel error
	switch body.Error.Code {
	case CodeValidation:
		sentinel = common.ErrValidation
	case CodeNotFound:
		sentinel = common.ErrNotFound
	case CodeDuplicate:
		sentinel = common.ErrDuplicateKey
	case CodeInvalidCredentials:
		sentinel = common.ErrInvalidCredentials
	case CodeUnauthorized:
		sentinel = common.ErrInvalidToken
	case CodeForbidden:
		sentinel = common.ErrUnauthorized
	default:
		sentinel = common.ErrInternal
	}
	return fmt.Errorf("%w: %s", sentinel, body.Error.Message)
}

// Kicker schedules a queue drain. Satisfied by the sync engine.
type Kicker interface {
	Kick()
}

// Gateway routes requests to the local substrate or the remote authority.
type Gateway struct {
	store       store.Store
	sessions    *session.Manager
	queue       *syncer.Queue
	remote      *remote.Client
	prober      *remote.Prober
	hub         *realtime.Hub
	sync        Kicker
	log         logging.Logger
	preferLocal bool

	mux chi.Router
}

func New(s store.Store, sm *session.Manager, q *syncer.Queue, rc *remote.Client, p *remote.Prober, hub *realtime.Hub, k Kicker, log logging.Logger, preferLocal bool) *Gateway {
	g := &Gateway{
		store:       s,
		sessions:    sm,
		queue:       q,
		remote:      rc,
		prober:      p,
		hub:         hub,
		sync:        k,
		log:         log,
		preferLocal: preferLocal,
	}
	g.mux = g.routes()
	return g
}

func (g *Gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(g.recoverer)

	r.Get("/health", g.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", g.handleLogin)
		r.Post("/register", g.handleRegister)
		r.Group(func(r chi.Router) {
			r.Use(g.requireAuth)
			r.Post("/logout", g.handleLogout)
			r.Post("/refresh", g.handleRefresh)
			r.Get("/session", g.handleSession)
		})
	})

	r.Route("/content", func(r chi.Router) {
		r.Use(g.requireAuth)
		r.With(g.requirePermission("content.read")).Get("/", g.handleContentList)
		r.With(g.requirePermission("content.read")).Get("/{id}", g.handleContentGet)
		r.With(g.requirePermission("content.write")).Post("/", g.handleContentCreate)
		r.With(g.requirePermission("content.write")).Put("/{id}", g.handleContentUpdate)
		r.With(g.requirePermission("content.write")).Delete("/{id}", g.handleContentDelete)
	})

	r.Route("/files", func(r chi.Router) {
		r.Use(g.requireAuth)
		r.With(g.requirePermission("media.read")).Get("/", g.handleFileList)
		r.With(g.requirePermission("media.read")).Get("/{id}", g.handleFileGet)
		r.With(g.requirePermission("media.write")).Post("/", g.handleFileUpload)
		r.With(g.requirePermission("media.write")).Delete("/{id}", g.handleFileDelete)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Use(g.requireAuth)
		r.With(g.requirePermission("settings.read")).Get("/", g.handleSettingsGet)
		r.With(g.requirePermission("settings.write")).Put("/", g.handleSettingsUpdate)
	})

	r.With(g.requireAuth, g.requirePermission("dashboard.view")).
		Get("/dashboard", g.handleDashboard)

	r.Handle("/realtime/{room}", realtime.NewBridge(g.hub, g.log))

	return r
}

// ServeHTTP exposes the router directly, for serving over a listener.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Do answers a request in process. Reads and writes against proxied
// collections go to the authority while it is reachable; everything else,
// and everything while offline, is served by the local router. Local writes
// are queued for later replay, and a drain is kicked off right away when
// the network is up.
func (g *Gateway) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	if g.shouldProxy(path) {
		status, respBody, err := g.remote.Proxy(ctx, method, path, body)
		if err == nil {
			return &Response{Status: status, Body: respBody}, nil
		}
		if !errors.Is(err, common.ErrNetworkUnavailable) {
			return nil, err
		}
		// The authority dropped between probe and call; answer locally.
	}

	req, err := http.NewRequestWithContext(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sess := g.sessions.Current(); sess != nil {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+sess.Token)
	}

	rec := newRecorder()
	g.mux.ServeHTTP(rec, req)
	return &Response{Status: rec.status, Body: rec.body.Bytes()}, nil
}

// recorder is the in-memory ResponseWriter behind Do.
type recorder struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{status: http.StatusOK, header: make(http.Header)}
}

func (r *recorder) Header() http.Header         { return r.header }
func (r *recorder) WriteHeader(status int)      { r.status = status }
func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

// shouldProxy reports whether the path belongs to the authority and the
// reachability policy allows going there.
func (g *Gateway) shouldProxy(path string) bool {
	if g.preferLocal || !g.prober.Online() {
		return false
	}
	for _, prefix := range []string{"/content", "/files", "/settings"} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

const timeFormat = time.RFC3339Nano

// recordBody flattens a record into the same object shape the authority
// serves, so local and proxied answers look alike to callers.
func recordBody(rec *store.Record) map[string]any {
	body := make(map[string]any, len(rec.Fields)+3)
	for k, v := range rec.Fields {
		body[k] = v
	}
	body["id"] = rec.ID
	body["createdAt"] = rec.CreatedAt
	body["updatedAt"] = rec.UpdatedAt
	return body
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", common.ErrValidation, err)
	}
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": g.prober.Online(),
	})
}

func (g *Gateway) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.log.Error(r.Context(), "handler panicked", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
