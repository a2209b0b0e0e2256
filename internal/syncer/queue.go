// Package syncer replays local mutations against the remote authority once
// connectivity returns. Queued entries are durable documents in a reserved
// store collection, so they survive restarts under either storage engine.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/store"
)

// Queue entry operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Queue entry states. Entries start pending, move to in-flight while a
// drain is replaying them, and end done (purged) or failed (retry budget
// exhausted). in-flight entries revert to pending when a drain is cut
// short.
const (
	StatusPending  = "pending"
	StatusInFlight = "in-flight"
	StatusFailed   = "failed"
	StatusDone     = "done"
)

// Entry is one queued mutation. BaseUpdatedAt is the record's local
// UpdatedAt at enqueue time; the drain compares it against the authority's
// version to detect concurrent remote edits.
type Entry struct {
	ID            string         `json:"-"`
	Op            string         `json:"op"`
	Collection    string         `json:"collection"`
	RecordID      string         `json:"recordId"`
	Payload       map[string]any `json:"payload,omitempty"`
	BaseUpdatedAt time.Time      `json:"baseUpdatedAt"`
	Status        string         `json:"status"`
	Attempts      int            `json:"attempts"`
	CreatedAt     time.Time      `json:"-"`
}

// Queue persists entries in the reserved sync_queue collection.
type Queue struct {
	store store.Store
}

func NewQueue(s store.Store) *Queue {
	return &Queue{store: s}
}

// Enqueue appends a pending entry. Entry ids are assigned monotonically by
// the store, which fixes the replay order.
func (q *Queue) Enqueue(ctx context.Context, op, collection, recordID string, payload map[string]any, baseUpdatedAt time.Time) (*Entry, error) {
	e := Entry{
		Op:            op,
		Collection:    collection,
		RecordID:      recordID,
		Payload:       payload,
		BaseUpdatedAt: baseUpdatedAt,
		Status:        StatusPending,
	}
	fields, err := models.Fields(e)
	if err != nil {
		return nil, err
	}
	rec, err := q.store.Create(ctx, store.QueueCollection, fields)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s/%s: %w", op, collection, recordID, err)
	}
	return decodeEntry(rec)
}

// Pending returns pending and failed-free replayable entries in creation
// order. in-flight entries left over from an interrupted process are
// treated as pending again.
func (q *Queue) Pending(ctx context.Context) ([]*Entry, error) {
	records, err := q.store.FindAll(ctx, store.QueueCollection, store.Query{})
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(records))
	for _, rec := range records {
		e, err := decodeEntry(rec)
		if err != nil {
			return nil, err
		}
		if e.Status == StatusPending || e.Status == StatusInFlight {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)
	return entries, nil
}

// Failed returns entries whose retry budget is exhausted.
func (q *Queue) Failed(ctx context.Context) ([]*Entry, error) {
	records, err := q.store.FindAll(ctx, store.QueueCollection, store.Query{
		Filter: map[string]any{"status": StatusFailed},
	})
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(records))
	for _, rec := range records {
		e, err := decodeEntry(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// Len reports the number of replayable entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// MarkInFlight transitions an entry into the draining state.
func (q *Queue) MarkInFlight(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, StatusInFlight, nil)
}

// MarkPending reverts an interrupted entry so a later drain retries it.
func (q *Queue) MarkPending(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, StatusPending, nil)
}

// MarkFailed records an exhausted entry together with its attempt count.
func (q *Queue) MarkFailed(ctx context.Context, id string, attempts int) error {
	return q.setStatus(ctx, id, StatusFailed, map[string]any{"attempts": attempts})
}

// Rebase moves an entry's conflict baseline forward. Used after an earlier
// entry for the same record was pushed: the authority's stamp from that push
// is not a foreign edit.
func (q *Queue) Rebase(ctx context.Context, id string, base time.Time) error {
	_, err := q.store.Update(ctx, store.QueueCollection, id, map[string]any{"baseUpdatedAt": base})
	return err
}

// Ack purges an acknowledged entry. Acking an already purged entry is a
// no-op.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.store.Delete(ctx, store.QueueCollection, id)
	return err
}

// RetryFailed moves failed entries back to pending so the next drain picks
// them up again with a fresh retry budget.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	failed, err := q.Failed(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range failed {
		if err := q.setStatus(ctx, e.ID, StatusPending, map[string]any{"attempts": 0}); err != nil {
			return 0, err
		}
	}
	return len(failed), nil
}

func (q *Queue) setStatus(ctx context.Context, id, status string, extra map[string]any) error {
	patch := map[string]any{"status": status}
	for k, v := range extra {
		patch[k] = v
	}
	_, err := q.store.Update(ctx, store.QueueCollection, id, patch)
	return err
}

func decodeEntry(rec *store.Record) (*Entry, error) {
	e, err := models.Decode[Entry](rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("decode queue entry %s: %w", rec.ID, err)
	}
	e.ID = rec.ID
	e.CreatedAt = rec.CreatedAt
	return e, nil
}

// sortEntries orders by the numeric entry id, which reflects enqueue order.
func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, _ := strconv.ParseInt(entries[i].ID, 10, 64)
		b, _ := strconv.ParseInt(entries[j].ID, 10, 64)
		return a < b
	})
}
