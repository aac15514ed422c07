package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/service"
)

// ExtractStart handles POST /archives/extract.
func (h *Handler) ExtractStart(w http.ResponseWriter, r *http.Request) {
	var req service.ExtractRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	id, err := h.svc.ExtractStart(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

// ExtractStatus handles GET /archives/extract/{id}.
func (h *Handler) ExtractStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.ExtractStatus(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ExtractCancel handles POST /archives/extract/{id}/cancel.
func (h *Handler) ExtractCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ExtractCancel(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// PreviewArchive handles GET /archives/preview?key=&format=.
func (h *Handler) PreviewArchive(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.PreviewArchive(r.Context(), caller(r),
		r.URL.Query().Get("key"), archive.Format(r.URL.Query().Get("format")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// CreateArchiveStart handles POST /archives/create.
func (h *Handler) CreateArchiveStart(w http.ResponseWriter, r *http.Request) {
	var req service.CreateArchiveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	id, err := h.svc.CreateArchiveStart(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

// CreateArchiveStatus handles GET /archives/create/{id}.
func (h *Handler) CreateArchiveStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.CreateArchiveStatus(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CreateArchiveCancel handles POST /archives/create/{id}/cancel.
func (h *Handler) CreateArchiveCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CreateArchiveCancel(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
