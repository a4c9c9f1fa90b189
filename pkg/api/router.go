package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Options struct {
	Logger *slog.Logger
	// Limiter throttles submissions per client. Nil disables limiting.
	Limiter Limiter
	// Idempotency enables Idempotency-Key replay on submissions.
	Idempotency    *IdempotencyStore
	MaxUploadBytes int64
}

// NewRouter wires the measurement routes.
func NewRouter(svc Measurements, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	h := &handlers{svc: svc, logger: logger, maxUpload: opts.MaxUploadBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLog(logger))
	r.Use(CORS)

	r.Get("/health", h.health)
	r.Get("/status/{id}", h.status)
	r.Get("/img/{id}", h.image)

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(RateLimit(opts.Limiter, logger))
		}
		if opts.Idempotency != nil {
			r.Use(Idempotent(opts.Idempotency))
		}
		r.Post("/measurements", h.submit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, r.Method+" is not supported on "+r.URL.Path)
	})
	return r
}
