package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/broadcast-dispatch/internal/model"
	"github.com/LeventeLantos/broadcast-dispatch/internal/scheduler"
	"github.com/LeventeLantos/broadcast-dispatch/internal/service"
)

// Runner triggers dispatch passes and exposes recent requests.
type Runner interface {
	RunOnce(ctx context.Context) (service.Summary, error)
	Recent(ctx context.Context, limit int) ([]model.ScheduleRequest, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (service.ReconcileReport, error)
}

type Handler struct {
	sched      *scheduler.Scheduler
	runner     Runner
	reconciler Reconciler
	log        zerolog.Logger
}

func NewHandler(s *scheduler.Scheduler, runner Runner, reconciler Reconciler, log zerolog.Logger) *Handler {
	return &Handler{sched: s, runner: runner, reconciler: reconciler, log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	started := h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning(), "changed": started})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	stopped := h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning(), "changed": stopped})
}

// RunExecutor runs a pass synchronously. A pass that failed to query due
// requests still returns its summary, with status 500.
func (h *Handler) RunExecutor(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunOnce(r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("run_id", summary.RunID).Msg("manual executor run failed")
		writeJSON(w, http.StatusInternalServerError, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListRecentSchedules(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 0)

	items, err := h.runner.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.ScheduleRequest{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ReconcileDeliveries(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
