package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/logger"
	"github.com/oshokin/distroget/internal/service/download"
)

// Provider exposes the state of the update runs.
type Provider interface {
	Phase() release.Phase
	Status() (download.Status, bool)
	LastReport() *release.Report
}

// TriggerFunc requests an immediate run. It returns false when a run is
// already pending.
type TriggerFunc func() bool

// NewRouter creates the router with health, status, report, metrics and
// trigger routes. A nil trigger disables POST /run.
func NewRouter(provider Provider, trigger TriggerFunc) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	h := NewHandler(provider, trigger)

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)
	r.Get("/report", h.Report)

	if trigger != nil {
		r.Post("/run", h.Run)
	}

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger logs every request at debug level through the context logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			ww      = middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started = time.Now()
		)

		next.ServeHTTP(ww, r)

		logger.DebugKV(logger.WithName(r.Context(), "http"), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(started))
	})
}
