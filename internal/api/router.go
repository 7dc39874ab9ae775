package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(LoggingMiddleware(h.log))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/scheduler/status", h.SchedulerStatus)
		r.Post("/scheduler/start", h.SchedulerStart)
		r.Post("/scheduler/stop", h.SchedulerStop)

		r.Post("/executor/run", h.RunExecutor)
		r.Get("/schedules/recent", h.ListRecentSchedules)
		r.Post("/deliveries/reconcile", h.ReconcileDeliveries)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("broadcast-dispatch"))
	})

	return r
}

// LoggingMiddleware logs one line per request with its status and latency.
func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
