package gateway

import (
	"net/http"

	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/store"
)

// settingsRecord locates the singleton settings record.
func (g *Gateway) settingsRecord(r *http.Request) (*store.Record, error) {
	records, err := g.store.FindAll(r.Context(), models.CollectionSettings, store.Query{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (g *Gateway) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	rec, err := g.settingsRecord(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, recordBody(rec))
}

func (g *Gateway) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeBody(r, &patch); err != nil {
		writeErr(w, err)
		return
	}

	existing, err := g.settingsRecord(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var updated *store.Record
	if existing == nil {
		updated, err = g.createRecord(r.Context(), models.CollectionSettings, patch)
	} else {
		updated, err = g.updateRecord(r.Context(), models.CollectionSettings, existing.ID, patch)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordBody(updated))
}
