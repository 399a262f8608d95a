package progress

import (
	"sync"
	"time"

	"github.com/nomis52/gosdm/goal"
)

// DefaultMaxLines bounds the lines kept per goal.
const DefaultMaxLines = 500

// Line is one progress line.
type Line struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Sink stores progress lines by goal key.
// This is the shared storage that all Logs write to.
type Sink struct {
	lines    map[goal.Key][]Line
	maxLines int
	now      func() time.Time
	mu       sync.RWMutex
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithMaxLines sets how many lines are kept per goal; older lines are dropped.
func WithMaxLines(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.maxLines = n
		}
	}
}

// WithClock overrides the time source used to stamp lines.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) {
		s.now = now
	}
}

// NewSink creates an empty sink.
func NewSink(opts ...SinkOption) *Sink {
	s := &Sink{
		lines:    make(map[goal.Key][]Line),
		maxLines: DefaultMaxLines,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a line for a goal.
func (s *Sink) Append(key goal.Key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := append(s.lines[key], Line{Time: s.now(), Text: text})
	if len(lines) > s.maxLines {
		lines = lines[len(lines)-s.maxLines:]
	}
	s.lines[key] = lines
}

// Lines returns a copy of a goal's lines.
func (s *Sink) Lines(key goal.Key) []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, ok := s.lines[key]
	if !ok {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// Last returns the most recent line for a goal, or "".
func (s *Sink) Last(key goal.Key) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.lines[key]
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1].Text
}

// ForLifecycle returns copies of the lines of every goal in a lifecycle,
// keyed by goal name.
func (s *Sink) ForLifecycle(id string) map[string][]Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Line)
	for k, lines := range s.lines {
		if k.Lifecycle != id {
			continue
		}
		c := make([]Line, len(lines))
		copy(c, lines)
		out[k.Goal] = c
	}
	return out
}

// Forget drops every line stored for a lifecycle.
func (s *Sink) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.lines {
		if k.Lifecycle == id {
			delete(s.lines, k)
		}
	}
}
