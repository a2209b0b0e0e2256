package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/dbx"
	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/store/migrations"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore implements Store using a DBTX (either *sql.DB or *sql.Tx).
// Documents are rows in a single table keyed by (collection, id); unique
// secondary indices live in a side table so violations are detected inside
// the same transaction as the write.
type SQLiteStore struct {
	// root is the owning connection; nil when this instance is a
	// transaction view handed to a Transact callback.
	root    *sql.DB
	db      dbx.DBTX
	schemas map[string]Schema
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// OpenSQLite opens (or creates) the database at dsn, applies migrations and
// registers the collection schemas.
func OpenSQLite(ctx context.Context, dsn string, schemas []Schema) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	// The driver serializes writers; a single connection avoids table-lock
	// errors between overlapping transactions.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{root: db, db: db, schemas: schemaMap(schemas)}, nil
}

func schemaMap(schemas []Schema) map[string]Schema {
	m := make(map[string]Schema, len(schemas))
	for _, s := range schemas {
		m[s.Collection] = s
	}
	return m
}

func (s *SQLiteStore) Close() error {
	if s.root == nil {
		return nil
	}
	return s.root.Close()
}

// Transact runs fn against a transaction-bound view of the store. Calls on
// a view that is already transactional run in the enclosing transaction.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.root == nil {
		return fn(ctx, s)
	}
	return dbx.WithTx(ctx, s.root, nil, func(ctx context.Context, tx dbx.DBTX) error {
		view := &SQLiteStore{db: tx, schemas: s.schemas}
		return fn(ctx, view)
	})
}

func (s *SQLiteStore) Meta() MetaStore {
	return &sqliteMeta{db: s.db}
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, fields map[string]any) (*Record, error) {
	var rec *Record
	err := s.Transact(ctx, func(ctx context.Context, tx Store) error {
		var err error
		rec, err = tx.(*SQLiteStore).createTx(ctx, collection, fields)
		return err
	})
	return rec, err
}

func (s *SQLiteStore) createTx(ctx context.Context, collection string, fields map[string]any) (*Record, error) {
	fields, id, err := splitID(fields)
	if err != nil {
		return nil, err
	}
	fields = normalizeFields(fields)
	if err := validate(collection, fields); err != nil {
		return nil, err
	}

	if id == "" {
		if s.schemas[collection].AutoID {
			n, err := s.nextCounter(ctx, collection)
			if err != nil {
				return nil, err
			}
			id = strconv.FormatInt(n, 10)
		} else {
			id = uuid.NewString()
		}
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check id: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("%w: %s id %q", common.ErrDuplicateKey, collection, id)
	}

	if err := s.claimUnique(ctx, collection, id, nil, fields); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{ID: id, Fields: fields, CreatedAt: now, UpdatedAt: now}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(raw), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return rec.Clone(), nil
}

func (s *SQLiteStore) Read(ctx context.Context, collection, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fields, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	rec, err := scanRecord(row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s id %q", common.ErrNotFound, collection, id)
	}
	return rec, err
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any) (*Record, error) {
	var rec *Record
	err := s.Transact(ctx, func(ctx context.Context, tx Store) error {
		var err error
		rec, err = tx.(*SQLiteStore).updateTx(ctx, collection, id, patch)
		return err
	})
	return rec, err
}

func (s *SQLiteStore) updateTx(ctx context.Context, collection, id string, patch map[string]any) (*Record, error) {
	existing, err := s.Read(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	merged := existing.Clone()
	for k, v := range patch {
		// The envelope attributes are immutable.
		if k == "id" || k == "createdAt" || k == "updatedAt" {
			continue
		}
		merged.Fields[k] = v
	}
	merged.Fields = normalizeFields(merged.Fields)
	if err := validate(collection, merged.Fields); err != nil {
		return nil, err
	}

	if err := s.claimUnique(ctx, collection, id, existing.Fields, merged.Fields); err != nil {
		return nil, err
	}

	merged.UpdatedAt = nextStamp(existing.UpdatedAt)

	raw, err := json.Marshal(merged.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(raw), merged.UpdatedAt.UnixNano(), collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return merged.Clone(), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	var deleted bool
	err := s.Transact(ctx, func(ctx context.Context, tx Store) error {
		var err error
		deleted, err = tx.(*SQLiteStore).deleteTx(ctx, collection, id)
		return err
	})
	return deleted, err
}

func (s *SQLiteStore) deleteTx(ctx context.Context, collection, id string) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM doc_index WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete index entries: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra > 0, nil
}

func (s *SQLiteStore) FindAll(ctx context.Context, collection string, q Query) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents WHERE collection = ? ORDER BY created_at`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*Record
	for rows.Next() {
		var (
			id      string
			raw     string
			created int64
			updated int64
		)
		if err := rows.Scan(&id, &raw, &created, &updated); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(id, raw, created, updated)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyQuery(result, q), nil
}

func (s *SQLiteStore) FindOne(ctx context.Context, collection, field string, value any) (*Record, error) {
	found, err := s.FindAll(ctx, collection, Query{Filter: map[string]any{field: value}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s with %s=%v", common.ErrNotFound, collection, field, value)
	}
	return found[0], nil
}

// claimUnique maintains the unique index side table for a write. oldFields
// is nil on create. It fails with common.ErrDuplicateKey when another record
// already holds one of the new values.
func (s *SQLiteStore) claimUnique(ctx context.Context, collection, id string, oldFields, newFields map[string]any) error {
	for _, idx := range s.schemas[collection].Indexes {
		if !idx.Unique {
			continue
		}
		newVal, hasNew := indexValue(newFields, idx.Field)
		oldVal, hasOld := indexValue(oldFields, idx.Field)

		if hasOld && (!hasNew || oldVal != newVal) {
			_, err := s.db.ExecContext(ctx,
				`DELETE FROM doc_index WHERE collection = ? AND field = ? AND value = ?`,
				collection, idx.Field, oldVal)
			if err != nil {
				return fmt.Errorf("failed to release index entry: %w", err)
			}
		}
		if !hasNew {
			continue
		}

		var holder string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM doc_index WHERE collection = ? AND field = ? AND value = ?`,
			collection, idx.Field, newVal).Scan(&holder)
		switch {
		case err == nil:
			if holder != id {
				return fmt.Errorf("%w: %s.%s=%q", common.ErrDuplicateKey, collection, idx.Field, newVal)
			}
		case errors.Is(err, sql.ErrNoRows):
			_, err := s.db.ExecContext(ctx,
				`INSERT INTO doc_index (collection, field, value, id) VALUES (?, ?, ?, ?)`,
				collection, idx.Field, newVal, id)
			if err != nil {
				return fmt.Errorf("failed to claim index entry: %w", err)
			}
		default:
			return fmt.Errorf("failed to check index entry: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) nextCounter(ctx context.Context, collection string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT next FROM counters WHERE collection = ?`, collection).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		next = 1
	} else if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO counters (collection, next) VALUES (?, ?)
		ON CONFLICT(collection) DO UPDATE SET next = excluded.next
	`, collection, next+1)
	if err != nil {
		return 0, fmt.Errorf("failed to bump counter: %w", err)
	}
	return next, nil
}

// sqliteMeta is the key/value side table.
type sqliteMeta struct {
	db dbx.DBTX
}

func (m *sqliteMeta) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := m.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (m *sqliteMeta) Set(ctx context.Context, key string, value []byte) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (m *sqliteMeta) Delete(ctx context.Context, key string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

// Helpers shared with the KV engine.

func splitID(fields map[string]any) (map[string]any, string, error) {
	out := make(map[string]any, len(fields))
	id := ""
	for k, v := range fields {
		if k == "id" {
			s, ok := v.(string)
			if !ok {
				return nil, "", fmt.Errorf("%w: id must be a string", common.ErrValidation)
			}
			id = s
			continue
		}
		out[k] = v
	}
	return out, id, nil
}

func validate(collection string, fields map[string]any) error {
	if v, ok := models.Validators[collection]; ok {
		return v(fields)
	}
	return nil
}

// nextStamp returns the current time, clamped so UpdatedAt strictly
// increases even if the wall clock stalls or steps back.
func nextStamp(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func indexValue(fields map[string]any, field string) (string, bool) {
	if fields == nil {
		return "", false
	}
	v, ok := fields[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v), true
	}
	return s, true
}

func decodeRecord(id, raw string, created, updated int64) (*Record, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields for %q: %w", id, err)
	}
	return &Record{
		ID:        id,
		Fields:    fields,
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

func scanRecord(row *sql.Row, id string) (*Record, error) {
	var (
		raw     string
		created int64
		updated int64
	)
	if err := row.Scan(&raw, &created, &updated); err != nil {
		return nil, err
	}
	return decodeRecord(id, raw, created, updated)
}
