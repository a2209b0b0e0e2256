package gateway

import (
	"net/http"
	"time"

	"github.com/bjpl/offlinekit/internal/models"
	"github.com/bjpl/offlinekit/internal/store"
)

func (g *Gateway) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := models.DashboardStats{}
	var latest time.Time

	content, err := g.store.FindAll(ctx, models.CollectionContent, store.Query{})
	if err != nil {
		writeErr(w, err)
		return
	}
	stats.ContentCount = len(content)
	for _, rec := range content {
		if published, _ := rec.Fields["published"].(bool); published {
			stats.PublishedCount++
		}
		if rec.UpdatedAt.After(latest) {
			latest = rec.UpdatedAt
		}
	}

	media, err := g.store.FindAll(ctx, models.CollectionMedia, store.Query{})
	if err != nil {
		writeErr(w, err)
		return
	}
	stats.MediaCount = len(media)
	for _, rec := range media {
		if rec.UpdatedAt.After(latest) {
			latest = rec.UpdatedAt
		}
	}

	users, err := g.store.FindAll(ctx, models.CollectionUsers, store.Query{})
	if err != nil {
		writeErr(w, err)
		return
	}
	stats.UserCount = len(users)

	pending, err := g.queue.Len(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	stats.PendingSync = pending

	if !latest.IsZero() {
		stats.LastUpdatedAt = latest.Format(timeFormat)
	}
	writeJSON(w, http.StatusOK, stats)
}
