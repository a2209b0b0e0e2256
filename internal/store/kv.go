package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/google/uuid"
)

// KVStore is the synchronous fallback engine: one JSON container per
// collection, loaded into memory and flushed on every mutation. It keeps
// the same collection/record shape as the SQLite engine so callers are
// unaffected. Uniqueness is enforced by field scans only, which narrows but
// does not eliminate the cross-context race window; Transact serializes
// writers within this process.
type KVStore struct {
	dir     string
	schemas map[string]Schema

	mu          sync.Mutex
	collections map[string]*kvContainer
	meta        map[string][]byte
}

// kvContainer is the persisted layout of one collection.
type kvContainer struct {
	Records []*Record `json:"records"`
	NextID  int64     `json:"nextId"`
}

// OpenKV loads the JSON containers under dir, creating the directory on
// first run.
func OpenKV(dir string, schemas []Schema) (*KVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &KVStore{
		dir:         dir,
		schemas:     schemaMap(schemas),
		collections: make(map[string]*kvContainer),
		meta:        make(map[string][]byte),
	}

	for name := range s.schemas {
		c, err := loadContainer(filepath.Join(dir, name+".json"))
		if err != nil {
			return nil, fmt.Errorf("load collection %q: %w", name, err)
		}
		s.collections[name] = c
	}

	if b, err := os.ReadFile(filepath.Join(dir, "metadata.json")); err == nil {
		if err := json.Unmarshal(b, &s.meta); err != nil {
			return nil, fmt.Errorf("load metadata: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

func loadContainer(path string) (*kvContainer, error) {
	c := &kvContainer{NextID: 1}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if c.NextID < 1 {
		c.NextID = 1
	}
	return c, nil
}

func (s *KVStore) flushLocked(collection string) error {
	b, err := json.MarshalIndent(s.collections[collection], "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, collection+".json"), b, 0o644)
}

func (s *KVStore) flushMetaLocked() error {
	b, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, "metadata.json"), b, 0o644)
}

func (s *KVStore) container(collection string) *kvContainer {
	c, ok := s.collections[collection]
	if !ok {
		c = &kvContainer{NextID: 1}
		s.collections[collection] = c
	}
	return c
}

func (s *KVStore) Close() error { return nil }

// Transact serializes the callback under the store mutex. The view handed
// to fn skips locking so the callback can compose reads and writes.
func (s *KVStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &kvTxView{s: s})
}

func (s *KVStore) Meta() MetaStore { return &kvMeta{s: s} }

func (s *KVStore) Create(ctx context.Context, collection string, fields map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(collection, fields)
}

func (s *KVStore) createLocked(collection string, fields map[string]any) (*Record, error) {
	fields, id, err := splitID(fields)
	if err != nil {
		return nil, err
	}
	fields = normalizeFields(fields)
	if err := validate(collection, fields); err != nil {
		return nil, err
	}

	c := s.container(collection)

	if id == "" {
		if s.schemas[collection].AutoID {
			id = strconv.FormatInt(c.NextID, 10)
			c.NextID++
		} else {
			id = uuid.NewString()
		}
	}

	if s.findLocked(c, id) != nil {
		return nil, fmt.Errorf("%w: %s id %q", common.ErrDuplicateKey, collection, id)
	}
	if err := s.checkUniqueLocked(collection, id, fields); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{ID: id, Fields: fields, CreatedAt: now, UpdatedAt: now}
	c.Records = append(c.Records, rec)

	if err := s.flushLocked(collection); err != nil {
		return nil, fmt.Errorf("flush %q: %w", collection, err)
	}
	return rec.Clone(), nil
}

func (s *KVStore) Read(ctx context.Context, collection, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(collection, id)
}

func (s *KVStore) readLocked(collection, id string) (*Record, error) {
	if rec := s.findLocked(s.container(collection), id); rec != nil {
		return rec.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s id %q", common.ErrNotFound, collection, id)
}

func (s *KVStore) Update(ctx context.Context, collection, id string, patch map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(collection, id, patch)
}

func (s *KVStore) updateLocked(collection, id string, patch map[string]any) (*Record, error) {
	c := s.container(collection)
	rec := s.findLocked(c, id)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s id %q", common.ErrNotFound, collection, id)
	}

	merged := rec.Clone()
	for k, v := range patch {
		if k == "id" || k == "createdAt" || k == "updatedAt" {
			continue
		}
		merged.Fields[k] = v
	}
	merged.Fields = normalizeFields(merged.Fields)
	if err := validate(collection, merged.Fields); err != nil {
		return nil, err
	}
	if err := s.checkUniqueLocked(collection, id, merged.Fields); err != nil {
		return nil, err
	}

	merged.UpdatedAt = nextStamp(rec.UpdatedAt)
	*rec = *merged

	if err := s.flushLocked(collection); err != nil {
		return nil, fmt.Errorf("flush %q: %w", collection, err)
	}
	return merged.Clone(), nil
}

func (s *KVStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(collection, id)
}

func (s *KVStore) deleteLocked(collection, id string) (bool, error) {
	c := s.container(collection)
	for i, rec := range c.Records {
		if rec.ID == id {
			c.Records = append(c.Records[:i], c.Records[i+1:]...)
			if err := s.flushLocked(collection); err != nil {
				return false, fmt.Errorf("flush %q: %w", collection, err)
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *KVStore) FindAll(ctx context.Context, collection string, q Query) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findAllLocked(collection, q)
}

func (s *KVStore) findAllLocked(collection string, q Query) ([]*Record, error) {
	c := s.container(collection)

	records := make([]*Record, 0, len(c.Records))
	for _, rec := range c.Records {
		records = append(records, rec.Clone())
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return applyQuery(records, q), nil
}

func (s *KVStore) FindOne(ctx context.Context, collection, field string, value any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findOneLocked(collection, field, value)
}

func (s *KVStore) findOneLocked(collection, field string, value any) (*Record, error) {
	found, err := s.findAllLocked(collection, Query{Filter: map[string]any{field: value}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s with %s=%v", common.ErrNotFound, collection, field, value)
	}
	return found[0], nil
}

func (s *KVStore) findLocked(c *kvContainer, id string) *Record {
	for _, rec := range c.Records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// checkUniqueLocked enforces unique indexes by scanning the collection;
// this is the advertised fallback-mode weakening of index enforcement.
func (s *KVStore) checkUniqueLocked(collection, id string, fields map[string]any) error {
	for _, idx := range s.schemas[collection].Indexes {
		if !idx.Unique {
			continue
		}
		val, ok := indexValue(fields, idx.Field)
		if !ok {
			continue
		}
		for _, rec := range s.container(collection).Records {
			if rec.ID == id {
				continue
			}
			if held, ok := indexValue(rec.Fields, idx.Field); ok && held == val {
				return fmt.Errorf("%w: %s.%s=%q", common.ErrDuplicateKey, collection, idx.Field, val)
			}
		}
	}
	return nil
}

// normalizeFields round-trips values through JSON so both engines hand back
// identical dynamic types (numbers as float64, no typed structs).
func normalizeFields(fields map[string]any) map[string]any {
	b, err := json.Marshal(fields)
	if err != nil {
		return fields
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return fields
	}
	return out
}

// kvTxView routes Store calls to the locked core while the Transact caller
// holds the mutex.
type kvTxView struct {
	s *KVStore
}

func (v *kvTxView) Create(ctx context.Context, collection string, fields map[string]any) (*Record, error) {
	return v.s.createLocked(collection, fields)
}

func (v *kvTxView) Read(ctx context.Context, collection, id string) (*Record, error) {
	return v.s.readLocked(collection, id)
}

func (v *kvTxView) Update(ctx context.Context, collection, id string, patch map[string]any) (*Record, error) {
	return v.s.updateLocked(collection, id, patch)
}

func (v *kvTxView) Delete(ctx context.Context, collection, id string) (bool, error) {
	return v.s.deleteLocked(collection, id)
}

func (v *kvTxView) FindAll(ctx context.Context, collection string, q Query) ([]*Record, error) {
	return v.s.findAllLocked(collection, q)
}

func (v *kvTxView) FindOne(ctx context.Context, collection, field string, value any) (*Record, error) {
	return v.s.findOneLocked(collection, field, value)
}

func (v *kvTxView) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	// Already inside the transaction scope.
	return fn(ctx, v)
}

func (v *kvTxView) Meta() MetaStore { return &kvMeta{s: v.s, locked: true} }

func (v *kvTxView) Close() error { return nil }

// kvMeta persists the metadata map alongside the collections.
type kvMeta struct {
	s      *KVStore
	locked bool
}

func (m *kvMeta) lock() func() {
	if m.locked {
		return func() {}
	}
	m.s.mu.Lock()
	return m.s.mu.Unlock
}

func (m *kvMeta) Get(ctx context.Context, key string) ([]byte, error) {
	defer m.lock()()
	v, ok := m.s.meta[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *kvMeta) Set(ctx context.Context, key string, value []byte) error {
	defer m.lock()()
	b := make([]byte, len(value))
	copy(b, value)
	m.s.meta[key] = b
	return m.s.flushMetaLocked()
}

func (m *kvMeta) Delete(ctx context.Context, key string) error {
	defer m.lock()()
	delete(m.s.meta, key)
	return m.s.flushMetaLocked()
}
