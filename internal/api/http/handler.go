package http

import (
	"encoding/json"
	"net/http"

	"github.com/oshokin/distroget/internal/logger"
)

// Handler serves the daemon endpoints.
type Handler struct {
	provider Provider
	trigger  TriggerFunc
}

// NewHandler creates a handler over provider.
func NewHandler(provider Provider, trigger TriggerFunc) *Handler {
	return &Handler{
		provider: provider,
		trigger:  trigger,
	}
}

// Health handles GET /healthz and reports the current phase.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ok",
		"phase":  string(h.provider.Phase()),
	})
}

// Status handles GET /status with the download snapshot of the current or last run.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, _ := h.provider.Status()

	writeJSON(w, r, http.StatusOK, status.Fields())
}

// Report handles GET /report.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	report := h.provider.LastReport()
	if report == nil {
		writeError(w, r, http.StatusNotFound, "no run has finished yet")

		return
	}

	writeJSON(w, r, http.StatusOK, report.Fields())
}

// Run handles POST /run.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.trigger() {
		writeError(w, r, http.StatusConflict, "a run is already pending")

		return
	}

	logger.Info(logger.WithName(r.Context(), "http"), "Run requested over HTTP")

	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.ErrorKV(logger.WithName(r.Context(), "http"), "Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, map[string]string{
		"error": message,
	})
}
