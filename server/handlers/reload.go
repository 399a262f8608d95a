package handlers

import (
	"log/slog"
	"net/http"
)

// ReloadResponse describes the configuration now in effect.
type ReloadResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Environment string `json:"environment"`
}

// ReloadHandler handles requests to reload the delivery configuration from
// disk. Active lifecycles pick up the rebuilt goal definitions on their next
// event. A failed reload leaves the previous configuration in place.
type ReloadHandler struct {
	logger   *slog.Logger
	reloader Reloader
	provider ConfigProvider
}

// NewReloadHandler creates a new ReloadHandler.
func NewReloadHandler(logger *slog.Logger, reloader Reloader, provider ConfigProvider) *ReloadHandler {
	return &ReloadHandler{
		logger:   logger,
		reloader: reloader,
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("reloading configuration")

	if err := h.reloader.Reload(); err != nil {
		h.logger.Error("failed to reload configuration", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reload configuration: " + err.Error(),
		})
		return
	}

	cfg := h.provider.Config()
	h.logger.Info("configuration reloaded", "workspace_id", cfg.WorkspaceID)
	writeJSON(w, http.StatusOK, ReloadResponse{
		WorkspaceID: cfg.WorkspaceID,
		Environment: cfg.Environment,
	})
}
