package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// CancelRequest defines the optional request body for POST /lifecycles/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelHandler handles requests to cancel a lifecycle.
type CancelHandler struct {
	logger    *slog.Logger
	canceller Canceller
}

// NewCancelHandler creates a new CancelHandler.
func NewCancelHandler(logger *slog.Logger, canceller Canceller) *CancelHandler {
	return &CancelHandler{
		logger:    logger,
		canceller: canceller,
	}
}

// ServeHTTP implements http.Handler.
func (h *CancelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	id := r.PathValue("id")
	lc, err := h.canceller.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.logger.Warn("failed to cancel lifecycle", "lifecycle_id", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLifecycleResponse(lc))
}

// TickHandler handles requests to advance active lifecycles immediately.
type TickHandler struct {
	logger *slog.Logger
	ticker Ticker
}

// NewTickHandler creates a new TickHandler.
func NewTickHandler(logger *slog.Logger, ticker Ticker) *TickHandler {
	return &TickHandler{
		logger: logger,
		ticker: ticker,
	}
}

// ServeHTTP implements http.Handler.
func (h *TickHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.ticker.Tick(r.Context()); err != nil {
		h.logger.Error("tick failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "tick failed: " + err.Error(),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
