package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/config"
	"github.com/bjpl/offlinekit/internal/events"
	"github.com/bjpl/offlinekit/internal/logging"
	"github.com/bjpl/offlinekit/internal/remote"
	"github.com/bjpl/offlinekit/internal/store"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryCapDelay  = 5 * time.Second
)

// Result summarizes one drain pass.
type Result struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// SyncErrorPayload is the payload of a sync-error event.
type SyncErrorPayload struct {
	EntryID    string `json:"entryId"`
	Collection string `json:"collection"`
	RecordID   string `json:"recordId"`
	Op         string `json:"op"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

// Options tunes the drain behavior. Zero values fall back to the config
// defaults.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Fanout      int
	Strategy    string
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Fanout <= 0 {
		o.Fanout = 4
	}
	if o.Strategy == "" {
		o.Strategy = config.StrategyServerWins
	}
}

// Engine drains the queue against the remote authority. Drains run from a
// connectivity-restored signal, a periodic ticker, or an explicit SyncNow;
// only one drain runs at a time.
type Engine struct {
	queue  *Queue
	store  store.Store
	remote *remote.Client
	bus    *events.Bus
	log    logging.Logger
	opts   Options

	mu          sync.Mutex
	draining    bool
	cancelDrain context.CancelFunc

	trigger chan struct{}
	stop    context.CancelFunc
	done    chan struct{}
}

func NewEngine(q *Queue, s store.Store, r *remote.Client, bus *events.Bus, log logging.Logger, opts Options) *Engine {
	opts.normalize()
	return &Engine{
		queue:   q,
		store:   s,
		remote:  r,
		bus:     bus,
		log:     log,
		opts:    opts,
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the background drain loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-e.trigger:
			}
			if _, err := e.SyncNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error(ctx, "background sync failed", "error", err)
			}
		}
	}()
}

// Stop terminates the loop, cancelling any drain in progress, and waits
// for it to exit.
func (e *Engine) Stop() {
	if e.stop == nil {
		return
	}
	e.stop()
	<-e.done
}

// OnNetworkChange is wired to the connectivity prober. Regaining the
// network kicks off a drain; losing it cancels the one in progress so
// in-flight entries revert to pending.
func (e *Engine) OnNetworkChange(online bool) {
	if online {
		e.Kick()
		return
	}
	e.mu.Lock()
	cancel := e.cancelDrain
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Kick schedules a drain without waiting for it.
func (e *Engine) Kick() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// SyncNow drains the queue synchronously and reports counts. A concurrent
// drain makes this call a no-op with zero counts.
func (e *Engine) SyncNow(ctx context.Context) (Result, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return Result{}, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	e.draining = true
	e.cancelDrain = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.draining = false
		e.cancelDrain = nil
		e.mu.Unlock()
	}()

	return e.drain(ctx)
}

func (e *Engine) drain(ctx context.Context) (Result, error) {
	entries, err := e.queue.Pending(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, nil
	}

	// Entries for the same record replay strictly in creation order;
	// distinct records drain concurrently.
	groups := make(map[string][]*Entry)
	var order []string
	for _, entry := range entries {
		key := entry.Collection + "/" + entry.RecordID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], entry)
	}

	var (
		resMu sync.Mutex
		res   Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Fanout)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for i, entry := range group {
				synced, conflict, stamp, err := e.processEntry(gctx, entry)
				if err != nil {
					// Remaining entries for this record stay queued so
					// ordering holds on the next drain.
					return err
				}
				resMu.Lock()
				if synced {
					res.Synced++
				} else {
					res.Failed++
				}
				if conflict {
					res.Conflicts++
				}
				resMu.Unlock()
				if !synced {
					// The entry was marked failed. Later entries for this
					// record must not overtake it: a retry would replay it
					// out of creation order. They stay pending.
					break
				}
				if !stamp.IsZero() {
					// The push moved the authority's stamp; later entries
					// for this record must not read it as a foreign edit.
					for _, follow := range group[i+1:] {
						if stamp.After(follow.BaseUpdatedAt) {
							follow.BaseUpdatedAt = stamp
							if err := e.queue.Rebase(gctx, follow.ID, stamp); err != nil {
								return err
							}
						}
					}
				}
			}
			return nil
		})
	}

	drainErr := g.Wait()

	remaining, lenErr := e.queue.Len(context.WithoutCancel(ctx))
	if lenErr == nil {
		res.Remaining = remaining
	}

	if drainErr != nil {
		return res, drainErr
	}
	e.log.Info(ctx, "sync completed", "synced", res.Synced, "conflicts", res.Conflicts, "failed", res.Failed, "remaining", res.Remaining)
	e.bus.Publish(events.SyncCompleted, res)
	return res, nil
}

// processEntry replays one entry. The results report whether it was
// acknowledged, whether a conflict was resolved along the way, and the
// authority's resulting UpdatedAt (zero for deletes). A nil error with
// synced=false means the entry was marked failed and skipped.
func (e *Engine) processEntry(ctx context.Context, entry *Entry) (synced, conflict bool, stamp time.Time, err error) {
	if err := e.queue.MarkInFlight(ctx, entry.ID); err != nil {
		return false, false, time.Time{}, err
	}

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1),
		retry.WithCappedDuration(retryCapDelay, retry.NewExponential(retryBaseDelay)))

	applyErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		c, s, err := e.apply(ctx, entry)
		if c {
			conflict = true
		}
		if err == nil {
			stamp = s
			return nil
		}
		// Only connectivity failures are worth retrying; anything else
		// will fail the same way again.
		if errors.Is(err, common.ErrNetworkUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})

	if applyErr == nil {
		if err := e.queue.Ack(context.WithoutCancel(ctx), entry.ID); err != nil {
			return false, conflict, stamp, err
		}
		return true, conflict, stamp, nil
	}

	// A cancelled drain is not a failure of the entry: revert it so the
	// next drain picks it up again.
	if ctx.Err() != nil {
		if err := e.queue.MarkPending(context.WithoutCancel(ctx), entry.ID); err != nil {
			e.log.Error(context.WithoutCancel(ctx), "revert in-flight entry failed", "entry", entry.ID, "error", err)
		}
		return false, conflict, time.Time{}, ctx.Err()
	}

	if errors.Is(applyErr, common.ErrNetworkUnavailable) {
		applyErr = fmt.Errorf("%w: %v", common.ErrSyncExhausted, applyErr)
	}
	if err := e.queue.MarkFailed(ctx, entry.ID, attempts); err != nil {
		return false, conflict, time.Time{}, err
	}
	e.log.Error(ctx, "queue entry failed", "entry", entry.ID, "op", entry.Op, "collection", entry.Collection, "record", entry.RecordID, "error", applyErr)
	e.bus.Publish(events.SyncError, SyncErrorPayload{
		EntryID:    entry.ID,
		Collection: entry.Collection,
		RecordID:   entry.RecordID,
		Op:         entry.Op,
		Attempts:   attempts,
		Error:      applyErr.Error(),
	})
	return false, conflict, time.Time{}, nil
}

// apply pushes a single entry to the authority, detecting and resolving
// conflicts for updates and deletes. The returned stamp is the authority's
// UpdatedAt after the push, used to rebase later entries for the record.
func (e *Engine) apply(ctx context.Context, entry *Entry) (conflict bool, stamp time.Time, err error) {
	switch entry.Op {
	case OpCreate:
		created, err := e.remote.CreateRecord(ctx, entry.Collection, entry.RecordID, entry.Payload)
		if err != nil {
			return false, time.Time{}, err
		}
		return false, created.UpdatedAt, nil

	case OpUpdate:
		current, err := e.remote.GetRecord(ctx, entry.Collection, entry.RecordID)
		if errors.Is(err, common.ErrNotFound) {
			// Deleted remotely, or the create never made it. Recreate from
			// the full local record so no fields are lost.
			local, lerr := e.store.Read(ctx, entry.Collection, entry.RecordID)
			if errors.Is(lerr, common.ErrNotFound) {
				return false, time.Time{}, nil
			}
			if lerr != nil {
				return false, time.Time{}, lerr
			}
			created, err := e.remote.CreateRecord(ctx, entry.Collection, entry.RecordID, local.Fields)
			if err != nil {
				return false, time.Time{}, err
			}
			return false, created.UpdatedAt, nil
		}
		if err != nil {
			return false, time.Time{}, err
		}
		if current.UpdatedAt.After(entry.BaseUpdatedAt) {
			stamp, err := e.resolveConflict(ctx, entry, current)
			return true, stamp, err
		}
		updated, err := e.remote.UpdateRecord(ctx, entry.Collection, entry.RecordID, entry.Payload)
		if err != nil {
			return false, time.Time{}, err
		}
		return false, updated.UpdatedAt, nil

	case OpDelete:
		current, err := e.remote.GetRecord(ctx, entry.Collection, entry.RecordID)
		if errors.Is(err, common.ErrNotFound) {
			return false, time.Time{}, nil
		}
		if err != nil {
			return false, time.Time{}, err
		}
		if current.UpdatedAt.After(entry.BaseUpdatedAt) {
			stamp, err := e.resolveDeleteConflict(ctx, entry, current)
			return true, stamp, err
		}
		return false, time.Time{}, e.remote.DeleteRecord(ctx, entry.Collection, entry.RecordID)

	default:
		return false, time.Time{}, fmt.Errorf("unknown queue op %q", entry.Op)
	}
}

// resolveConflict applies the configured strategy to an update whose base
// version is stale.
func (e *Engine) resolveConflict(ctx context.Context, entry *Entry, current *remote.Record) (time.Time, error) {
	e.log.Info(ctx, "sync conflict", "collection", entry.Collection, "record", entry.RecordID, "strategy", e.opts.Strategy)

	switch e.opts.Strategy {
	case config.StrategyClientWins:
		updated, err := e.remote.UpdateRecord(ctx, entry.Collection, entry.RecordID, entry.Payload)
		if err != nil {
			return time.Time{}, err
		}
		return updated.UpdatedAt, nil

	case config.StrategyMerge:
		merged := mergeFields(entry, current)
		updated, err := e.remote.UpdateRecord(ctx, entry.Collection, entry.RecordID, merged)
		if err != nil {
			return time.Time{}, err
		}
		return updated.UpdatedAt, e.adoptLocally(ctx, entry.Collection, entry.RecordID, merged)

	default: // server_wins
		return current.UpdatedAt, e.adoptLocally(ctx, entry.Collection, entry.RecordID, current.Fields)
	}
}

// resolveDeleteConflict handles a delete whose target changed remotely
// after the local delete was queued.
func (e *Engine) resolveDeleteConflict(ctx context.Context, entry *Entry, current *remote.Record) (time.Time, error) {
	e.log.Info(ctx, "sync delete conflict", "collection", entry.Collection, "record", entry.RecordID, "strategy", e.opts.Strategy)

	if e.opts.Strategy == config.StrategyClientWins {
		return time.Time{}, e.remote.DeleteRecord(ctx, entry.Collection, entry.RecordID)
	}
	// server_wins and merge both keep the newer remote record: the local
	// delete is discarded and the record resurrected locally.
	return current.UpdatedAt, e.adoptLocally(ctx, entry.Collection, entry.RecordID, current.Fields)
}

// mergeFields builds a field-level merge: the remote record is the base,
// and every field the queued payload names keeps the local value. The
// payload is by construction the latest edit to those fields, so a newer
// remote record-level stamp only wins the fields the payload left alone.
func mergeFields(entry *Entry, current *remote.Record) map[string]any {
	merged := make(map[string]any, len(current.Fields)+len(entry.Payload))
	for k, v := range current.Fields {
		merged[k] = v
	}
	for k, v := range entry.Payload {
		merged[k] = v
	}
	return merged
}

// adoptLocally writes resolved fields into the local store so both sides
// converge. A record deleted locally in the meantime is recreated.
func (e *Engine) adoptLocally(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := e.store.Update(ctx, collection, id, fields)
	if errors.Is(err, common.ErrNotFound) {
		recreate := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			recreate[k] = v
		}
		recreate["id"] = id
		_, err = e.store.Create(ctx, collection, recreate)
	}
	return err
}
