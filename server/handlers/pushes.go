package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
)

// PushRequest defines the request body for POST /pushes. The analysis is
// either a full interpretation or a list of detected element keys.
type PushRequest struct {
	Push           goal.Push                 `json:"push"`
	Elements       []string                  `json:"elements,omitempty"`
	Interpretation *interpret.Interpretation `json:"interpretation,omitempty"`
}

// PushResponse lists the lifecycles created for a push.
type PushResponse struct {
	Lifecycles []LifecycleSummary `json:"lifecycles"`
}

func (r PushRequest) validate() error {
	var errs []error
	if r.Push.Owner == "" {
		errs = append(errs, errors.New("push.owner is required"))
	}
	if r.Push.Repo == "" {
		errs = append(errs, errors.New("push.repo is required"))
	}
	if r.Push.SHA == "" {
		errs = append(errs, errors.New("push.sha is required"))
	}
	if r.Interpretation != nil && len(r.Elements) > 0 {
		errs = append(errs, errors.New("use either elements or interpretation, not both"))
	}
	return errors.Join(errs...)
}

func (r PushRequest) interpretation() interpret.Interpretation {
	if r.Interpretation != nil {
		return *r.Interpretation
	}
	return interpret.FromKeys(r.Elements...)
}

// PushHandler handles requests to plan goals for a push.
type PushHandler struct {
	logger    *slog.Logger
	submitter PushSubmitter
}

// NewPushHandler creates a new PushHandler.
func NewPushHandler(logger *slog.Logger, submitter PushSubmitter) *PushHandler {
	return &PushHandler{
		logger:    logger,
		submitter: submitter,
	}
}

// ServeHTTP implements http.Handler. It responds 201 when lifecycles were
// created and 200 with an empty list when the push gets no goals.
func (h *PushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	lcs, err := h.submitter.Submit(r.Context(), req.Push, req.interpretation())
	if err != nil {
		h.logger.Error("failed to submit push", "repo", req.Push.Slug(), "sha", req.Push.SHA, "error", err)
		writeError(w, err)
		return
	}

	resp := PushResponse{Lifecycles: make([]LifecycleSummary, 0, len(lcs))}
	for _, lc := range lcs {
		resp.Lifecycles = append(resp.Lifecycles, summarize(lc))
	}
	status := http.StatusOK
	if len(lcs) > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}
