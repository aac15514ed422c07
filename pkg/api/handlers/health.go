package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Can the server reach its object store and KV store?
type HealthHandler struct {
	gw    *gateway.Gateway
	store kv.Store
}

// NewHealthHandler creates a new health handler. Either dependency may
// be nil, in which case readiness reports unhealthy.
func NewHealthHandler(gw *gateway.Gateway, store kv.Store) *HealthHandler {
	return &HealthHandler{gw: gw, store: store}
}

type healthBody struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"service": "cloudrove"},
	})
}

// Readiness handles GET /health/ready - readiness probe.
//
// Checks a KV round trip and a one-key bucket listing, each with its
// observed latency. Returns 503 Service Unavailable on any failure.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil || h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthBody{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Error:     "stores not initialized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, 2)

	start := time.Now()
	probe := time.Now().UnixNano()
	if err := h.store.Set(ctx, "cloud:health:probe", probe, time.Minute); err != nil {
		h.unready(w, checks, "kv store unreachable: "+err.Error())
		return
	}
	var back int64
	if _, err := h.store.Get(ctx, "cloud:health:probe", &back); err != nil {
		h.unready(w, checks, "kv store unreachable: "+err.Error())
		return
	}
	checks["kv"] = time.Since(start).String()

	start = time.Now()
	_, err := h.gw.Client().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  h.gw.BucketPtr(),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		h.unready(w, checks, "object store unreachable: "+err.Error())
		return
	}
	checks["storage"] = time.Since(start).String()

	writeJSON(w, http.StatusOK, healthBody{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func (h *HealthHandler) unready(w http.ResponseWriter, checks map[string]string, msg string) {
	writeJSON(w, http.StatusServiceUnavailable, healthBody{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Error:     msg,
	})
}
