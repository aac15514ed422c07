package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/api/auth"
	"github.com/cloudrove/cloudrove/pkg/api/handlers"
	"github.com/cloudrove/cloudrove/pkg/api/middleware"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/metrics"
	"github.com/cloudrove/cloudrove/pkg/service"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Service *service.Service
	JWT     *auth.JWTService
	Gateway *gateway.Gateway
	KV      kv.Store

	// HTTPMetrics may be nil when metrics are disabled.
	HTTPMetrics *metrics.HTTPMetrics
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - GET /health, GET /health/ready - probes, unauthenticated
//   - GET /metrics - Prometheus metrics, unauthenticated
//   - /api/v1/* - the file API, behind JWT bearer auth
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(deps.HTTPMetrics.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Gateway, deps.KV)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	h := handlers.NewHandler(deps.Service)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(deps.JWT))

		r.Route("/files", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/objects", h.ListObjects)
			r.Get("/directories", h.ListDirectories)
			r.Get("/search", h.Search)
			r.Get("/object", h.Find)
			r.Get("/url", h.PresignedUrl)
			r.Get("/download", h.Download)
			r.Get("/scan-status", h.ScanStatus)
			r.Post("/move", h.Move)
			r.Post("/delete", h.DeleteObjects)
			r.Post("/update", h.Update)
		})

		r.Route("/directories", func(r chi.Router) {
			r.Post("/", h.CreateDirectory)
			r.Post("/rename", h.RenameDirectory)
			r.Post("/delete", h.DeleteDirectory)
		})

		r.Route("/secure", func(r chi.Router) {
			r.Post("/unlock", h.Unlock)
			r.Post("/lock", h.Lock)
			r.Post("/encrypt", h.Encrypt)
			r.Post("/decrypt", h.Decrypt)
			r.Post("/hide", h.Hide)
			r.Post("/unhide", h.Unhide)
			r.Post("/reveal", h.Reveal)
			r.Post("/conceal", h.Conceal)
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", h.CreateUpload)
			r.Get("/part-url", h.UploadPartUrl)
			r.Put("/part", h.UploadPart)
			r.Post("/complete", h.CompleteUpload)
			r.Post("/abort", h.AbortUpload)
		})

		r.Route("/archives", func(r chi.Router) {
			r.Get("/preview", h.PreviewArchive)
			r.Post("/extract", h.ExtractStart)
			r.Get("/extract/{id}", h.ExtractStatus)
			r.Post("/extract/{id}/cancel", h.ExtractCancel)
			r.Post("/create", h.CreateArchiveStart)
			r.Get("/create/{id}", h.CreateArchiveStatus)
			r.Post("/create/{id}/cancel", h.CreateArchiveCancel)
		})

		r.Get("/usage", h.StorageUsage)
	})

	return r
}

// requestLogger logs each request with its status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
