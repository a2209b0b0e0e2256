// Package models defines the typed collections stored in the local store
// and their boundary validation. Each collection has a struct type; raw
// field maps coming from callers are decoded into the struct to validate
// shape before anything is persisted.
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bjpl/offlinekit/internal/common"
)

// Collection names. These are the logical containers persisted by the store.
const (
	CollectionUsers    = "users"
	CollectionContent  = "content"
	CollectionMedia    = "media"
	CollectionSettings = "settings"
)

// Role names, hierarchical: admin ⊇ editor ⊇ user.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleUser   = "user"
)

// User is a record in the users collection. PasswordHash is a bcrypt hash;
// the plaintext never reaches the store.
type User struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
}

// Content is a record in the content collection.
type Content struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tags      string `json:"tags"`
	Published bool   `json:"published"`
	AuthorID  string `json:"authorId"`
}

// MediaFile is a record in the media collection. Data holds the file bytes
// base64-encoded; RemoteURL is set once the file has been uploaded to the
// remote authority's object storage.
type MediaFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        string `json:"data"`
	RemoteURL   string `json:"remoteUrl"`
}

// Settings is the singleton record in the settings collection.
type Settings struct {
	SiteTitle       string `json:"siteTitle"`
	SiteDescription string `json:"siteDescription"`
	Theme           string `json:"theme"`
	ItemsPerPage    int    `json:"itemsPerPage"`
}

// DashboardStats is an aggregate view, never persisted.
type DashboardStats struct {
	ContentCount   int    `json:"contentCount"`
	PublishedCount int    `json:"publishedCount"`
	MediaCount     int    `json:"mediaCount"`
	UserCount      int    `json:"userCount"`
	PendingSync    int    `json:"pendingSync"`
	LastUpdatedAt  string `json:"lastUpdatedAt"`
}

// Validator checks a raw field map for a collection. It returns
// common.ErrValidation (wrapped) when the fields do not decode into the
// collection's type or violate a field constraint.
type Validator func(fields map[string]any) error

func decodeInto(fields map[string]any, dst any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

func validateUser(fields map[string]any) error {
	var u User
	if err := decodeInto(fields, &u); err != nil {
		return err
	}
	if u.Username == "" {
		return fmt.Errorf("%w: username is required", common.ErrValidation)
	}
	switch u.Role {
	case RoleAdmin, RoleEditor, RoleUser, "":
	default:
		return fmt.Errorf("%w: unknown role %q", common.ErrValidation, u.Role)
	}
	return nil
}

func validateContent(fields map[string]any) error {
	var c Content
	if err := decodeInto(fields, &c); err != nil {
		return err
	}
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	return nil
}

func validateMedia(fields map[string]any) error {
	var m MediaFile
	if err := decodeInto(fields, &m); err != nil {
		return err
	}
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", common.ErrValidation)
	}
	if m.Size < 0 {
		return fmt.Errorf("%w: negative size", common.ErrValidation)
	}
	return nil
}

func validateSettings(fields map[string]any) error {
	var s Settings
	return decodeInto(fields, &s)
}

// Validators maps each collection to its boundary validator.
var Validators = map[string]Validator{
	CollectionUsers:    validateUser,
	CollectionContent:  validateContent,
	CollectionMedia:    validateMedia,
	CollectionSettings: validateSettings,
}

// Decode decodes a record's field map into the typed struct for its
// collection. The destination must be a pointer.
func Decode[T any](fields map[string]any) (*T, error) {
	var v T
	if err := decodeInto(fields, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Fields converts a typed value back into the raw map shape the store
// persists. Field names follow the struct's json tags.
func Fields(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
