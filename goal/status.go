package goal

import (
	"encoding/json"
	"slices"
	"time"
)

// Status is the persisted record of one goal within one lifecycle.
type Status struct {
	UniqueName   string          `json:"unique_name"`
	DisplayName  string          `json:"display_name,omitempty"`
	Environment  string          `json:"environment,omitempty"`
	After        []string        `json:"after,omitempty"`
	State        State           `json:"state"`
	Description  string          `json:"description,omitempty"`
	Phase        string          `json:"phase,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ExternalURLs []ExternalURL   `json:"external_urls,omitempty"`
	Reason       Reason          `json:"reason,omitempty"`
	Error        string          `json:"error,omitempty"`
	Attempt      Attempt         `json:"attempt"`
}

// DisplayState is the state shown to humans. A planned goal whose
// precondition is being polled is reported as in_process.
func (s Status) DisplayState() State {
	if s.State == Planned && s.Attempt.Checks > 0 {
		return InProcess
	}
	return s.State
}

// Clone returns a deep copy.
func (s Status) Clone() Status {
	c := s
	c.After = slices.Clone(s.After)
	c.Data = slices.Clone(s.Data)
	c.ExternalURLs = slices.Clone(s.ExternalURLs)
	c.Attempt = s.Attempt.Clone()
	return c
}

// DecodeData unmarshals the goal's published data into v.
func (s Status) DecodeData(v any) error {
	return json.Unmarshal(s.Data, v)
}

// Attempt records one execution attempt of a goal: the precondition polling
// window and the single executor dispatch that may follow it.
type Attempt struct {
	// PlannedAt is when the goal's dependencies were all satisfied.
	PlannedAt time.Time `json:"planned_at,omitzero"`

	// PollStartedAt is when the first precondition check ran.
	PollStartedAt time.Time `json:"poll_started_at,omitzero"`

	// Checks counts precondition evaluations.
	Checks int `json:"checks,omitempty"`

	// LastCheckAt is the time of the most recent check.
	LastCheckAt time.Time `json:"last_check_at,omitzero"`

	// LastCheck is the outcome of the most recent check.
	LastCheck string `json:"last_check,omitempty"`

	// Token identifies the in-flight dispatch. Completions carrying any
	// other token are ignored.
	Token string `json:"token,omitempty"`

	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// Code is the executor's result code, nil until it reports.
	Code *int `json:"code,omitempty"`
}

// Duration returns how long the executor ran, or zero if it has not finished.
func (a Attempt) Duration() time.Duration {
	if a.StartedAt.IsZero() || a.EndedAt.IsZero() {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// Clone returns a deep copy.
func (a Attempt) Clone() Attempt {
	c := a
	if a.Code != nil {
		code := *a.Code
		c.Code = &code
	}
	return c
}
