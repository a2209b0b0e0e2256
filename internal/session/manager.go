// Package session implements the session/token subsystem: it issues,
// validates, and refreshes bearer tokens bound to a user record and
// persists the active session so it survives reloads.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/events"
	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Refresh scheduling: tokens are refreshed refreshLead before expiry, but
// never sooner than refreshFloor from now.
const (
	refreshLead  = 5 * time.Minute
	refreshFloor = 1 * time.Minute
)

// Session is the active session state. Owned exclusively by the Manager;
// other components may read it, never mutate it.
type Session struct {
	ID             string
	UserID         string
	Token          string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// AuthChange is the payload of authentication-changed events.
type AuthChange struct {
	Authenticated bool
	UserID        string
	Reason        string
}

// Manager owns the session lifecycle. Safe for concurrent use.
type Manager struct {
	store    store.Store
	bus      *events.Bus
	log      logging.Logger
	secret   []byte
	validity time.Duration

	mu           sync.Mutex
	current      *Session
	role         string
	refreshTimer *time.Timer
}

func NewManager(s store.Store, bus *events.Bus, log logging.Logger, secret []byte, validity time.Duration) *Manager {
	return &Manager{
		store:    s,
		bus:      bus,
		log:      log,
		secret:   secret,
		validity: validity,
	}
}

// Register creates a new user record with a bcrypt password hash. Username
// and email uniqueness is enforced by the store's unique indexes.
func (m *Manager) Register(ctx context.Context, username, password, email, role string) (bool, error) {
	if username == "" || password == "" {
		return false, fmt.Errorf("%w: username and password are required", common.ErrValidation)
	}
	if role == "" {
		role = models.RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	fields, err := models.Fields(models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return false, err
	}

	if _, err := m.store.Create(ctx, models.CollectionUsers, fields); err != nil {
		return false, err
	}
	return true, nil
}

// Login verifies credentials against the stored password hash and issues a
// fresh token. The session token and session id are persisted as two
// independent meta keys so the session survives reloads.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, string, error) {
	rec, err := m.store.FindOne(ctx, models.CollectionUsers, "username", username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			err = fmt.Errorf("%w: unknown user", common.ErrInvalidCredentials)
		}
		m.bus.Publish(events.LoginError, err.Error())
		return nil, "", err
	}

	user, err := models.Decode[models.User](rec.Fields)
	if err != nil {
		m.bus.Publish(events.LoginError, err.Error())
		return nil, "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		m.bus.Publish(events.LoginError, "invalid credentials")
		return nil, "", fmt.Errorf("%w: password mismatch", common.ErrInvalidCredentials)
	}

	token, expiresAt, err := GenerateToken(rec.ID, user.Role, m.secret, m.validity)
	if err != nil {
		m.bus.Publish(events.LoginError, err.Error())
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         rec.ID,
		Token:          token,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := m.persist(ctx, sess); err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.current = sess
	m.role = user.Role
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	m.log.Info(ctx, "session established", "user", username, "expiresAt", expiresAt)
	m.bus.Publish(events.LoginSuccess, username)
	m.bus.Publish(events.AuthenticationChanged, AuthChange{Authenticated: true, UserID: rec.ID})
	return sess, token, nil
}

// Logout tears down the active session: the refresh timer is cancelled so
// it does not leak, and the persisted keys are cleared.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.stopRefreshLocked()
	had := m.current != nil
	m.current = nil
	m.role = ""
	m.mu.Unlock()

	m.clearPersisted(ctx)

	if had {
		m.bus.Publish(events.LogoutSuccess, nil)
		m.bus.Publish(events.AuthenticationChanged, AuthChange{Authenticated: false, Reason: "logout"})
	}
}

// RestoreSession reconstructs state from the persisted session+token pair
// at startup. If the stored session cannot be validated (user deleted,
// token malformed or expired), it clears storage and reports false rather
// than failing.
func (m *Manager) RestoreSession(ctx context.Context) bool {
	meta := m.store.Meta()

	token, err := meta.Get(ctx, common.MetaKeySessionToken)
	if err != nil || len(token) == 0 {
		return false
	}
	id, err := meta.Get(ctx, common.MetaKeySessionID)
	if err != nil || len(id) == 0 {
		m.clearPersisted(ctx)
		return false
	}

	claims, err := ParseToken(string(token), m.secret)
	if err != nil {
		m.log.Warn(ctx, "persisted token rejected", "error", err)
		m.clearPersisted(ctx)
		return false
	}

	rec, err := m.store.Read(ctx, models.CollectionUsers, claims.Subject)
	if err != nil {
		m.log.Warn(ctx, "persisted session user missing", "userId", claims.Subject)
		m.clearPersisted(ctx)
		return false
	}
	user, err := models.Decode[models.User](rec.Fields)
	if err != nil {
		m.clearPersisted(ctx)
		return false
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             string(id),
		UserID:         claims.Subject,
		Token:          string(token),
		ExpiresAt:      claims.ExpiresAt.Time,
		CreatedAt:      claims.IssuedAt.Time,
		LastActivityAt: now,
	}

	m.mu.Lock()
	m.current = sess
	m.role = user.Role
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	m.bus.Publish(events.AuthenticationChanged, AuthChange{Authenticated: true, UserID: sess.UserID})
	return true
}

// RefreshToken re-issues the session token before expiry. It fails closed:
// when refresh is impossible the session is torn down and an expiry event
// is emitted.
func (m *Manager) RefreshToken(ctx context.Context) (bool, error) {
	m.mu.Lock()
	sess := m.current
	role := m.role
	m.mu.Unlock()

	if sess == nil {
		return false, nil
	}

	// The user must still exist; a deleted user invalidates the session.
	if _, err := m.store.Read(ctx, models.CollectionUsers, sess.UserID); err != nil {
		m.expire(ctx, "user missing")
		return false, err
	}

	token, expiresAt, err := GenerateToken(sess.UserID, role, m.secret, m.validity)
	if err != nil {
		m.expire(ctx, "refresh failed")
		return false, err
	}

	now := time.Now().UTC()
	refreshed := &Session{
		ID:             sess.ID,
		UserID:         sess.UserID,
		Token:          token,
		ExpiresAt:      expiresAt,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: now,
	}
	if err := m.persist(ctx, refreshed); err != nil {
		m.expire(ctx, "refresh persist failed")
		return false, err
	}

	m.mu.Lock()
	m.current = refreshed
	m.scheduleRefreshLocked()
	m.mu.Unlock()

	m.log.Info(ctx, "session token refreshed", "expiresAt", expiresAt)
	return true, nil
}

// HasPermission checks the static role→permission mapping; it never reads
// the store, so it is safe on every request.
func (m *Manager) HasPermission(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	return RoleHasPermission(m.role, name)
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	return &c
}

// Validate checks a bearer token and returns its claims. Used by the
// gateway's auth middleware.
func (m *Manager) Validate(token string) (*Claims, error) {
	return ParseToken(token, m.secret)
}

// Close cancels the refresh timer. The persisted session is left intact so
// it can be restored on the next startup.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRefreshLocked()
}

func (m *Manager) persist(ctx context.Context, sess *Session) error {
	meta := m.store.Meta()
	if err := meta.Set(ctx, common.MetaKeySessionToken, []byte(sess.Token)); err != nil {
		return fmt.Errorf("persist session token: %w", err)
	}
	if err := meta.Set(ctx, common.MetaKeySessionID, []byte(sess.ID)); err != nil {
		return fmt.Errorf("persist session id: %w", err)
	}
	return nil
}

func (m *Manager) clearPersisted(ctx context.Context) {
	meta := m.store.Meta()
	if err := meta.Delete(ctx, common.MetaKeySessionToken); err != nil {
		m.log.Warn(ctx, "failed to clear session token", "error", err)
	}
	if err := meta.Delete(ctx, common.MetaKeySessionID); err != nil {
		m.log.Warn(ctx, "failed to clear session id", "error", err)
	}
}

// expire tears the session down after a failed refresh or validation.
func (m *Manager) expire(ctx context.Context, reason string) {
	m.mu.Lock()
	m.stopRefreshLocked()
	m.current = nil
	m.role = ""
	m.mu.Unlock()

	m.clearPersisted(ctx)
	m.log.Warn(ctx, "session expired", "reason", reason)
	m.bus.Publish(events.AuthenticationChanged, AuthChange{Authenticated: false, Reason: reason})
}

func (m *Manager) scheduleRefreshLocked() {
	m.stopRefreshLocked()
	if m.current == nil {
		return
	}

	delay := time.Until(m.current.ExpiresAt) - refreshLead
	if delay < refreshFloor {
		delay = refreshFloor
	}

	m.refreshTimer = time.AfterFunc(delay, func() {
		ctx := context.Background()
		if _, err := m.RefreshToken(ctx); err != nil {
			m.log.Error(ctx, "automatic token refresh failed", "error", err)
		}
	})
}

func (m *Manager) stopRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}
