// Package store implements the local persistent document store: schema-based
// collections with secondary indices, CRUD, and a filter/sort/paginate query
// layer. Two interchangeable engines satisfy the same interface: a
// transactional SQLite engine and a simple file-backed key-value engine used
// as a fallback when the database cannot be opened.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/models"
)

// Record is a schema-typed document belonging to a named collection.
// ID is immutable once assigned; UpdatedAt strictly increases on every
// mutation. Fields holds the collection-specific payload; the envelope
// attributes (ID and timestamps) are kept outside of it.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a deep-enough copy: the field map is copied so callers can
// not alias the store's internal state. Nested maps are not expected in the
// registered collections (validation flattens them out).
func (r *Record) Clone() *Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Record{ID: r.ID, Fields: fields, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

// Index declares a secondary index on a collection field.
type Index struct {
	Field  string
	Unique bool
}

// Schema declares a collection: its id assignment mode and indices.
// Definitions are applied once at store initialization and are idempotent
// across repeated startups.
type Schema struct {
	Collection string
	AutoID     bool
	Indexes    []Index
}

// Query describes findAll options. Application order: equality filters,
// then substring filters, then sort, then offset/limit pagination.
type Query struct {
	Filter   map[string]any
	Search   map[string]string
	SortBy   string
	SortDesc bool
	Offset   int
	Limit    int
}

// MetaStore is a small key/value side table used for state that is not a
// document (persisted session token and id, engine counters).
type MetaStore interface {
	// Get returns nil with no error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is the local store contract shared by both engines.
//
// Mutating callers that need read-modify-write atomicity across multiple
// operations must go through Transact; composing the individual calls
// outside a transaction is racy across contexts.
type Store interface {
	// Create assigns an id if absent, stamps timestamps, and fails with
	// common.ErrDuplicateKey if a unique index is violated.
	Create(ctx context.Context, collection string, fields map[string]any) (*Record, error)

	// Read returns common.ErrNotFound when the id is absent.
	Read(ctx context.Context, collection, id string) (*Record, error)

	// Update merges patch onto the existing record, re-stamps UpdatedAt and
	// preserves ID/CreatedAt. Fails with common.ErrNotFound if id is absent.
	Update(ctx context.Context, collection, id string, patch map[string]any) (*Record, error)

	// Delete is idempotent: deleting a non-existent id returns false.
	Delete(ctx context.Context, collection, id string) (bool, error)

	// FindAll applies, in order: filters, sort, pagination.
	FindAll(ctx context.Context, collection string, q Query) ([]*Record, error)

	// FindOne returns the first record whose field equals value, or
	// common.ErrNotFound.
	FindOne(ctx context.Context, collection, field string, value any) (*Record, error)

	// Transact runs fn as a single logical transaction. Within fn, use the
	// tx argument instead of the original store.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Meta() MetaStore

	Close() error
}

// DefaultSchemas declares the collections of the substrate.
func DefaultSchemas() []Schema {
	return []Schema{
		{Collection: models.CollectionUsers, Indexes: []Index{
			{Field: "username", Unique: true},
			{Field: "email", Unique: true},
		}},
		{Collection: models.CollectionContent, Indexes: []Index{
			{Field: "authorId"},
		}},
		{Collection: models.CollectionMedia},
		{Collection: models.CollectionSettings},
		// The sync queue rides on the store so it shares the store's own
		// durability guarantees in both engines. AutoID gives entries their
		// creation order.
		{Collection: QueueCollection, AutoID: true},
	}
}

// QueueCollection is the reserved collection holding sync queue entries.
const QueueCollection = "sync_queue"

// Open selects the SQLite engine when it is available and falls back to the
// key-value engine otherwise, keeping the same collection/record shape so
// callers are unaffected. Fallback mode loses unique-index enforcement
// beyond simple field scans but preserves functional correctness.
func Open(ctx context.Context, dir string, schemas []Schema, log logging.Logger) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", filepath.Join(dir, "substrate.db"))
	s, err := OpenSQLite(ctx, dsn, schemas)
	if err == nil {
		log.Info(ctx, "local store ready", "engine", "sqlite")
		return s, nil
	}
	log.Warn(ctx, "sqlite engine unavailable, falling back to key-value store", "error", err)

	kv, kvErr := OpenKV(dir, schemas)
	if kvErr != nil {
		return nil, fmt.Errorf("open fallback store: %w", kvErr)
	}
	log.Info(ctx, "local store ready", "engine", "kv")
	return kv, nil
}
