package handlers

import (
	"net/http"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/services"
)

// AnalyticsHandler serves the admin analytics routes.
type AnalyticsHandler struct {
	Analytics *services.Analytics
}

func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id", apperrors.ErrGalleryNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	summary, err := h.Analytics.Summary(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Rebuild refreshes the cached daily stats of one gallery from the action log.
func (h *AnalyticsHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id", apperrors.ErrGalleryNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	days, err := h.Analytics.Rebuild(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	cached, err := h.Analytics.CachedDaily(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"galleryId": id,
		"days":      days,
		"daily":     cached,
	})
}
