// Package handlers implements the HTTP handlers of the cloudrove API.
// Every handler resolves the caller from the validated JWT claims plus
// the per-request access headers, delegates to the service facade, and
// maps failures to HTTP status codes by their fault kind.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/api/middleware"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/service"
)

// Access headers carried per request.
const (
	HeaderFolderSession    = "X-Folder-Session"
	HeaderFolderPassphrase = "X-Folder-Passphrase"
	HeaderHiddenSession    = "X-Hidden-Session"
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderContentMD5       = "Content-MD5"
)

// Handler serves the authenticated API routes over the service facade.
type Handler struct {
	svc *service.Service
}

// NewHandler creates the API handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// caller builds the facade caller from the JWT claims and the access
// headers of the request.
func caller(r *http.Request) service.Caller {
	c := service.Caller{
		FolderSession:    r.Header.Get(HeaderFolderSession),
		FolderPassphrase: r.Header.Get(HeaderFolderPassphrase),
		HiddenSession:    r.Header.Get(HeaderHiddenSession),
		IdempotencyKey:   r.Header.Get(HeaderIdempotencyKey),
	}
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		c.UserID = claims.UserID
		c.TeamID = claims.TeamID
	}
	return c
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns false if decoding fails (an error response is written).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, fault.BadRequestf("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("response encode failed", logger.KeyError, err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps a fault kind to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindForbidden:
		status = http.StatusForbidden
	case fault.KindConflict:
		status = http.StatusConflict
	case fault.KindBadRequest:
		status = http.StatusBadRequest
	case fault.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	msg := err.Error()
	if kind == fault.KindInternal {
		// Internal details stay in the logs.
		logger.Error("request failed", logger.KeyError, err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind.String()})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func queryDuration(r *http.Request, name string, def time.Duration) time.Duration {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
