package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/lifecycle"
)

// LifecycleSummary is one row of the lifecycle listing.
type LifecycleSummary struct {
	ID        string            `json:"id"`
	Plan      string            `json:"plan"`
	Repo      string            `json:"repo"`
	Branch    string            `json:"branch,omitempty"`
	SHA       string            `json:"sha,omitempty"`
	Outcome   lifecycle.Outcome `json:"outcome"`
	Goals     map[string]int    `json:"goals"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// GoalView is a goal as shown to humans: the display state folds a polled
// planned goal into in_process.
type GoalView struct {
	goal.Status
	Display goal.State `json:"display"`
}

// LifecycleResponse is the JSON response for a single lifecycle.
type LifecycleResponse struct {
	ID           string            `json:"id"`
	Plan         string            `json:"plan"`
	Push         goal.Push         `json:"push"`
	Outcome      lifecycle.Outcome `json:"outcome"`
	Cancelled    bool              `json:"cancelled,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	Interrupted  bool              `json:"interrupted,omitempty"`
	Error        string            `json:"error,omitempty"`
	Goals        []GoalView        `json:"goals"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Revision     int               `json:"revision"`
}

func summarize(lc *lifecycle.Lifecycle) LifecycleSummary {
	counts := make(map[string]int)
	for s, n := range lc.Counts() {
		counts[s.String()] = n
	}
	return LifecycleSummary{
		ID:        lc.ID,
		Plan:      lc.Plan,
		Repo:      lc.Push.Slug(),
		Branch:    lc.Push.Branch,
		SHA:       lc.Push.SHA,
		Outcome:   lc.Outcome(),
		Goals:     counts,
		CreatedAt: lc.CreatedAt,
		UpdatedAt: lc.UpdatedAt,
	}
}

func newLifecycleResponse(lc *lifecycle.Lifecycle) LifecycleResponse {
	resp := LifecycleResponse{
		ID:           lc.ID,
		Plan:         lc.Plan,
		Push:         lc.Push,
		Outcome:      lc.Outcome(),
		Cancelled:    lc.Cancelled,
		CancelReason: lc.CancelReason,
		Interrupted:  lc.Interrupted,
		Goals:        make([]GoalView, 0, len(lc.Goals)),
		CreatedAt:    lc.CreatedAt,
		UpdatedAt:    lc.UpdatedAt,
		Revision:     lc.Revision,
	}
	if err := lc.Err(); err != nil {
		resp.Error = err.Error()
	}
	for _, g := range lc.Goals {
		resp.Goals = append(resp.Goals, GoalView{Status: g, Display: g.DisplayState()})
	}
	return resp
}

// ListLifecyclesHandler handles requests for the lifecycle listing.
// ?active=true limits the listing to lifecycles with work left.
type ListLifecyclesHandler struct {
	provider LifecycleProvider
}

// NewListLifecyclesHandler creates a new ListLifecyclesHandler.
func NewListLifecyclesHandler(provider LifecycleProvider) *ListLifecyclesHandler {
	return &ListLifecyclesHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *ListLifecyclesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lcs, err := h.provider.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	result := make([]LifecycleSummary, 0, len(lcs))
	for _, lc := range lcs {
		if activeOnly && !lc.Active() {
			continue
		}
		result = append(result, summarize(lc))
	}
	writeJSON(w, http.StatusOK, result)
}

// LifecycleHandler handles requests for one lifecycle.
type LifecycleHandler struct {
	provider LifecycleProvider
}

// NewLifecycleHandler creates a new LifecycleHandler.
func NewLifecycleHandler(provider LifecycleProvider) *LifecycleHandler {
	return &LifecycleHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *LifecycleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lc, err := h.provider.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLifecycleResponse(lc))
}

// LogsHandler handles requests for the logs of one lifecycle.
type LogsHandler struct {
	provider LogProvider
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(provider LogProvider) *LogsHandler {
	return &LogsHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logs, err := h.provider.Logs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
