package handlers

import (
	"log/slog"
	"net/http"
)

// ReloadableStore is a lifecycle store that can re-read its backing files,
// such as runner.DiskStore after snapshots were copied in by hand.
type ReloadableStore interface {
	Reload() error
}

// StoreReloadHandler handles requests to reload the lifecycle store.
type StoreReloadHandler struct {
	logger *slog.Logger
	store  ReloadableStore
}

// NewStoreReloadHandler creates a new StoreReloadHandler.
func NewStoreReloadHandler(logger *slog.Logger, store ReloadableStore) *StoreReloadHandler {
	return &StoreReloadHandler{
		logger: logger,
		store:  store,
	}
}

// ServeHTTP implements http.Handler.
func (h *StoreReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("reloading lifecycle store")

	if err := h.store.Reload(); err != nil {
		h.logger.Error("failed to reload lifecycle store", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to reload lifecycle store: " + err.Error(),
		})
		return
	}

	h.logger.Info("lifecycle store reloaded")
	w.WriteHeader(http.StatusNoContent)
}
