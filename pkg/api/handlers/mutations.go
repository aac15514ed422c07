package handlers

import (
	"net/http"

	"github.com/cloudrove/cloudrove/pkg/service"
)

// Move handles POST /files/move.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req service.MoveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Move(r.Context(), caller(r), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"moved": true})
}

// DeleteObjects handles POST /files/delete.
func (h *Handler) DeleteObjects(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys []string `json:"keys"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	freed, err := h.svc.DeleteObjects(r.Context(), caller(r), req.Keys)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"freedBytes": freed})
}

// Update handles POST /files/update (rename and/or metadata replace).
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	rec, err := h.svc.Update(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateDirectory handles POST /directories.
func (h *Handler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDirectoryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	dir, err := h.svc.CreateDirectory(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"directory": dir})
}

// RenameDirectory handles POST /directories/rename.
func (h *Handler) RenameDirectory(w http.ResponseWriter, r *http.Request) {
	var req service.RenameDirectoryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	dst, err := h.svc.RenameDirectory(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"directory": dst})
}

// DeleteDirectory handles POST /directories/delete.
func (h *Handler) DeleteDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Directory string `json:"directory"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	res, err := h.svc.DeleteDirectory(r.Context(), caller(r), req.Directory)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
