package logging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nomis52/gosdm/goal"
)

// CapturingHandler copies every record into a LogCollector under a goal key
// and then passes it on to the underlying handler.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *LogCollector
	key        goal.Key
	attrs      map[string]any
	prefix     string
}

// NewCapturingHandler wraps underlying so records are captured for key.
func NewCapturingHandler(underlying slog.Handler, collector *LogCollector, key goal.Key) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		key:        key,
	}
}

// GoalLoggers returns a factory that hands each goal a logger whose records
// are tagged with the goal and captured in collector.
func GoalLoggers(base *slog.Logger, collector *LogCollector) goal.Factory[*slog.Logger] {
	return func(key goal.Key) *slog.Logger {
		h := NewCapturingHandler(base.Handler(), collector, key)
		return slog.New(h).With("lifecycle_id", key.Lifecycle, "goal", key.Goal)
	}
}

// Enabled reports true for every level. Filtering for output still happens
// in the underlying handler.
func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle captures r and forwards it.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for k, v := range h.attrs {
		entry.Attributes[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[h.prefix+a.Key] = resolveValue(a.Value)
		return true
	})
	h.collector.Add(h.key, entry)

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs returns a CapturingHandler so capture survives logger.With chains.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	for _, a := range attrs {
		merged[h.prefix+a.Key] = resolveValue(a.Value)
	}
	return &CapturingHandler{
		underlying: h.underlying.WithAttrs(attrs),
		collector:  h.collector,
		key:        h.key,
		attrs:      merged,
		prefix:     h.prefix,
	}
}

// WithGroup returns a CapturingHandler; later attribute keys are dotted with
// the group name.
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CapturingHandler{
		underlying: h.underlying.WithGroup(name),
		collector:  h.collector,
		key:        h.key,
		attrs:      h.attrs,
		prefix:     h.prefix + name + ".",
	}
}

// resolveValue converts a slog.Value into something encoding/json can write.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	}
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if s, ok := v.Any().(interface{ String() string }); ok {
		return strings.TrimSpace(s.String())
	}
	return v.Any()
}
