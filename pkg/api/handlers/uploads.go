package handlers

import (
	"io"
	"net/http"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/service"
)

// maxPartBody bounds server-relayed part bodies. Larger parts should go
// through presigned part URLs instead.
const maxPartBody = 64 << 20

// CreateUpload handles POST /uploads.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	created, err := h.svc.CreateUpload(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UploadPartUrl handles GET /uploads/part-url?key=&uploadId=&partNumber=.
func (h *Handler) UploadPartUrl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	url, err := h.svc.UploadPartUrl(r.Context(), caller(r),
		q.Get("key"), q.Get("uploadId"), int32(queryInt(r, "partNumber", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// UploadPart handles PUT /uploads/part?key=&uploadId=&partNumber=. The
// body is the raw part; a Content-MD5 header is verified server-side.
func (h *Handler) UploadPart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPartBody+1))
	if err != nil {
		writeError(w, fault.BadRequestf("unreadable request body"))
		return
	}
	if len(body) > maxPartBody {
		writeError(w, fault.BadRequestf("part exceeds the maximum relayed size"))
		return
	}

	q := r.URL.Query()
	etag, err := h.svc.UploadPart(r.Context(), caller(r),
		q.Get("key"), q.Get("uploadId"), int32(queryInt(r, "partNumber", 0)),
		body, r.Header.Get(HeaderContentMD5))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"etag": etag})
}

// CompleteUpload handles POST /uploads/complete.
func (h *Handler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	var req service.CompleteUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	done, err := h.svc.CompleteUpload(r.Context(), caller(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

// AbortUpload handles POST /uploads/abort.
func (h *Handler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key      string `json:"key"`
		UploadId string `json:"uploadId"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := h.svc.AbortUpload(r.Context(), caller(r), req.Key, req.UploadId); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": true})
}
