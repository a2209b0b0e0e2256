package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/store"
	"github.com/bjpl/offlinekit/internal/syncer"
)

// listQuery translates the shared list query params: sortBy/order/offset/
// limit are universal, equality filters are collection-specific and added
// by each handler.
func listQuery(r *http.Request) store.Query {
	q := store.Query{Filter: map[string]any{}, Search: map[string]string{}}
	params := r.URL.Query()

	if v := params.Get("sortBy"); v != "" {
		q.SortBy = v
	}
	if params.Get("order") == "desc" {
		q.SortDesc = true
	}
	if v, err := strconv.Atoi(params.Get("offset")); err == nil && v > 0 {
		q.Offset = v
	}
	if v, err := strconv.Atoi(params.Get("limit")); err == nil && v > 0 {
		q.Limit = v
	}
	return q
}

func listBody(records []*store.Record, strip ...string) map[string]any {
	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		body := recordBody(rec)
		for _, field := range strip {
			delete(body, field)
		}
		items = append(items, body)
	}
	return map[string]any{"items": items, "total": len(items)}
}

func (g *Gateway) handleContentList(w http.ResponseWriter, r *http.Request) {
	q := listQuery(r)
	params := r.URL.Query()
	if v := params.Get("published"); v != "" {
		q.Filter["published"] = v == "true"
	}
	if v := params.Get("authorId"); v != "" {
		q.Filter["authorId"] = v
	}
	if v := params.Get("search"); v != "" {
		q.Search["title"] = v
	}

	records, err := g.store.FindAll(r.Context(), models.CollectionContent, q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listBody(records))
}

func (g *Gateway) handleContentGet(w http.ResponseWriter, r *http.Request) {
	rec, err := g.store.Read(r.Context(), models.CollectionContent, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordBody(rec))
}

func (g *Gateway) handleContentCreate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := decodeBody(r, &fields); err != nil {
		writeErr(w, err)
		return
	}
	if _, ok := fields["authorId"]; !ok {
		if claims := claimsFrom(r.Context()); claims != nil {
			fields["authorId"] = claims.Subject
		}
	}

	created, err := g.createRecord(r.Context(), models.CollectionContent, fields)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordBody(created))
}

func (g *Gateway) handleContentUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil {
		writeErr(w, err)
		return
	}

	updated, err := g.updateRecord(r.Context(), models.CollectionContent, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordBody(updated))
}

func (g *Gateway) handleContentDelete(w http.ResponseWriter, r *http.Request) {
	if err := g.deleteRecord(r.Context(), models.CollectionContent, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createRecord is the shared local write path: the insert and the queue
// entry commit in one transaction, then subscribers hear about it.
func (g *Gateway) createRecord(ctx context.Context, collection string, fields map[string]any) (*store.Record, error) {
	var created *store.Record
	err := g.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		rec, err := tx.Create(ctx, collection, fields)
		if err != nil {
			return err
		}
		created = rec
		_, err = syncer.NewQueue(tx).Enqueue(ctx, syncer.OpCreate, collection, rec.ID, rec.Fields, rec.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.afterWrite(ctx, collection, "created", created)
	return created, nil
}

func (g *Gateway) updateRecord(ctx context.Context, collection, id string, patch map[string]any) (*store.Record, error) {
	var updated *store.Record
	err := g.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		base, err := tx.Read(ctx, collection, id)
		if err != nil {
			return err
		}
		rec, err := tx.Update(ctx, collection, id, patch)
		if err != nil {
			return err
		}
		updated = rec
		_, err = syncer.NewQueue(tx).Enqueue(ctx, syncer.OpUpdate, collection, id, patch, base.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.afterWrite(ctx, collection, "updated", updated)
	return updated, nil
}

func (g *Gateway) deleteRecord(ctx context.Context, collection, id string) error {
	var deleted *store.Record
	err := g.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		base, err := tx.Read(ctx, collection, id)
		if err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, collection, id); err != nil {
			return err
		}
		deleted = base
		_, err = syncer.NewQueue(tx).Enqueue(ctx, syncer.OpDelete, collection, id, nil, base.UpdatedAt)
		return err
	})
	if err != nil {
		return err
	}
	g.afterWrite(ctx, collection, "deleted", deleted)
	return nil
}

// afterWrite fans a committed change out to realtime subscribers and nudges
// the sync engine while the network is up.
func (g *Gateway) afterWrite(ctx context.Context, collection, event string, rec *store.Record) {
	if g.hub != nil {
		g.hub.Publish(collection, event, recordBody(rec))
	}
	if g.sync != nil && g.prober.Online() {
		g.sync.Kick()
	}
}
