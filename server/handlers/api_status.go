package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/gosdm/buildinfo"
	"github.com/nomis52/gosdm/server/runner"
)

// NextRunResponse is the JSON response for the next scheduled tick.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// APIStatusResponse is the consolidated response for /api/status.
type APIStatusResponse struct {
	Build      buildinfo.Properties `json:"build"`
	Lifecycles runner.Summary       `json:"lifecycles"`
	NextRun    NextRunResponse      `json:"next_run"`
}

// APIStatusHandler handles requests for the consolidated status endpoint.
type APIStatusHandler struct {
	logger   *slog.Logger
	provider APIStatusProvider
}

// NewAPIStatusHandler creates a new APIStatusHandler.
func NewAPIStatusHandler(logger *slog.Logger, provider APIStatusProvider) *APIStatusHandler {
	return &APIStatusHandler{
		logger:   logger,
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	summary, err := h.provider.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to summarise lifecycles", "error", err)
		writeError(w, err)
		return
	}

	nextRun := h.provider.NextRun()
	writeJSON(w, http.StatusOK, APIStatusResponse{
		Build:      buildinfo.Get(),
		Lifecycles: summary,
		NextRun: NextRunResponse{
			Scheduled: nextRun != nil,
			NextRun:   nextRun,
		},
	})
}
