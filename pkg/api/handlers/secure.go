package handlers

import (
	"net/http"

	"github.com/cloudrove/cloudrove/pkg/service"
)

// Unlock handles POST /secure/unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req service.UnlockRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	sess, err := h.svc.Unlock(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Lock handles POST /secure/lock.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Lock(r.Context(), caller(r), req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked": true})
}

// Encrypt handles POST /secure/encrypt.
func (h *Handler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req service.ProtectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Encrypt(r.Context(), caller(r), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"encrypted": true})
}

// Decrypt handles POST /secure/decrypt.
func (h *Handler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req service.ProtectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Decrypt(r.Context(), caller(r), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"decrypted": true})
}

// Hide handles POST /secure/hide.
func (h *Handler) Hide(w http.ResponseWriter, r *http.Request) {
	var req service.ProtectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Hide(r.Context(), caller(r), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hidden": true})
}

// Unhide handles POST /secure/unhide.
func (h *Handler) Unhide(w http.ResponseWriter, r *http.Request) {
	var req service.ProtectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Unhide(r.Context(), caller(r), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unhidden": true})
}

// Reveal handles POST /secure/reveal.
func (h *Handler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req service.UnlockRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	sess, err := h.svc.Reveal(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Conceal handles POST /secure/conceal.
func (h *Handler) Conceal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.Conceal(r.Context(), caller(r), req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"concealed": true})
}
