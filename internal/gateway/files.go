package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bjpl/offlinekit/internal/common"
	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/netx"
)

const uploadTimeout = 30 * time.Second

type uploadRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

func (g *Gateway) handleFileList(w http.ResponseWriter, r *http.Request) {
	records, err := g.store.FindAll(r.Context(), models.CollectionMedia, listQuery(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	// Listings carry metadata only; the payload comes with a single get.
	writeJSON(w, http.StatusOK, listBody(records, "data"))
}

func (g *Gateway) handleFileGet(w http.ResponseWriter, r *http.Request) {
	rec, err := g.store.Read(r.Context(), models.CollectionMedia, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordBody(rec))
}

func (g *Gateway) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: data is not valid base64", common.ErrValidation))
		return
	}

	fields, err := models.Fields(models.MediaFile{
		Name:        req.Name,
		ContentType: req.ContentType,
		Size:        int64(len(raw)),
		Data:        req.Data,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	created, err := g.createRecord(r.Context(), models.CollectionMedia, fields)
	if err != nil {
		writeErr(w, err)
		return
	}

	// Push the bytes to object storage right away when the authority is
	// reachable; otherwise the record syncs later with the data inline.
	if g.prober.Online() {
		if url, err := g.uploadContent(r, created.ID, raw); err != nil {
			g.log.Warn(r.Context(), "presigned upload failed, keeping data inline", "file", created.ID, "error", err)
		} else if url != "" {
			if rec, err := g.store.Update(r.Context(), models.CollectionMedia, created.ID, map[string]any{"remoteUrl": url}); err == nil {
				created = rec
			}
		}
	}

	writeJSON(w, http.StatusCreated, recordBody(created))
}

// uploadContent asks the authority for a presigned URL and PUTs the raw
// bytes there. An empty URL means the authority does not do out-of-band
// storage for this file.
func (g *Gateway) uploadContent(r *http.Request, id string, raw []byte) (string, error) {
	status, body, err := g.remote.Proxy(r.Context(), http.MethodPost, "/files/"+id+"/presign", nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound || status == http.StatusNotImplemented {
		return "", nil
	}
	if status >= 300 {
		return "", fmt.Errorf("presign request: status %d", status)
	}
	var presigned struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &presigned); err != nil {
		return "", err
	}
	if presigned.URL == "" {
		return "", nil
	}
	if err := netx.UploadToPresignedURL(r.Context(), presigned.URL, raw, uploadTimeout); err != nil {
		return "", err
	}
	return presigned.URL, nil
}

func (g *Gateway) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	if err := g.deleteRecord(r.Context(), models.CollectionMedia, chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
