package gateway

import (
	"net/http"

	"github.com/bjpl/offlinekit/internal/models"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type sessionBody struct {
	Token     string         `json:"token"`
	ExpiresAt string         `json:"expiresAt"`
	UserID    string         `json:"userId"`
	User      map[string]any `json:"user,omitempty"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sess, token, err := g.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}

	body := sessionBody{
		Token:     token,
		ExpiresAt: sess.ExpiresAt.Format(timeFormat),
		UserID:    sess.UserID,
	}
	if rec, err := g.store.Read(r.Context(), models.CollectionUsers, sess.UserID); err == nil {
		user := recordBody(rec)
		delete(user, "passwordHash")
		body.User = user
	}
	writeJSON(w, http.StatusOK, body)
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if _, err := g.sessions.Register(r.Context(), req.Username, req.Password, req.Email, req.Role); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"username": req.Username})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	g.sessions.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ok, err := g.sessions.RefreshToken(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "no active session")
		return
	}
	sess := g.sessions.Current()
	writeJSON(w, http.StatusOK, sessionBody{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Format(timeFormat),
		UserID:    sess.UserID,
	})
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := g.sessions.Current()
	if sess == nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, sessionBody{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Format(timeFormat),
		UserID:    sess.UserID,
	})
}
