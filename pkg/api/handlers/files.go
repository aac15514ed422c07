package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/service"
)

// List handles GET /files?path=&delimited=&withMetadata=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), caller(r), service.ListRequest{
		Path:         r.URL.Query().Get("path"),
		Delimited:    queryBool(r, "delimited"),
		WithMetadata: queryBool(r, "withMetadata"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListObjects handles GET /files/objects with skip/take paging.
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListObjects(r.Context(), caller(r), service.ListObjectsRequest{
		Path:         r.URL.Query().Get("path"),
		Delimited:    queryBool(r, "delimited"),
		WithMetadata: queryBool(r, "withMetadata"),
		Skip:         queryInt(r, "skip", 0),
		Take:         queryInt(r, "take", 0),
		Search:       r.URL.Query().Get("search"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListDirectories handles GET /files/directories with skip/take paging.
func (h *Handler) ListDirectories(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListDirectories(r.Context(), caller(r), service.ListDirectoriesRequest{
		Path:   r.URL.Query().Get("path"),
		Skip:   queryInt(r, "skip", 0),
		Take:   queryInt(r, "take", 0),
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /files/search?q=&path=&extension=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Search(r.Context(), caller(r), service.SearchRequest{
		Query:     r.URL.Query().Get("q"),
		Path:      r.URL.Query().Get("path"),
		Extension: r.URL.Query().Get("extension"),
		Skip:      queryInt(r, "skip", 0),
		Take:      queryInt(r, "take", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Find handles GET /files/object?key=.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Find(r.Context(), caller(r), r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PresignedUrl handles GET /files/url?key=&ttl=.
func (h *Handler) PresignedUrl(w http.ResponseWriter, r *http.Request) {
	ttl := queryDuration(r, "ttl", time.Hour)
	url, err := h.svc.PresignedUrl(r.Context(), caller(r), r.URL.Query().Get("key"), ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Download handles GET /files/download?key=, streaming the object body
// throttled to the caller's plan. Range headers pass through.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	dl, err := h.svc.Download(r.Context(), caller(r), r.URL.Query().Get("key"), r.Header.Get("Range"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = dl.Body.Close() }()

	if dl.ContentType != "" {
		w.Header().Set("Content-Type", dl.ContentType)
	}
	if dl.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", dl.Size))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Name))
	if _, err := io.Copy(w, dl.Body); err != nil {
		// Client likely went away mid-stream; nothing to send back.
		logger.Debug("download stream aborted", logger.KeyError, err)
	}
}

// ScanStatus handles GET /files/scan-status?key=.
func (h *Handler) ScanStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ScanStatus(r.Context(), caller(r), r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StorageUsage handles GET /usage.
func (h *Handler) StorageUsage(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StorageUsage(r.Context(), caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
