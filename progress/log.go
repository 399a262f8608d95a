package progress

import (
	"log/slog"

	"github.com/nomis52/gosdm/goal"
)

// Log logs progress with goal context and records it in the sink.
// Each Log is bound to one goal.
type Log struct {
	logger *slog.Logger
	sink   *Sink
	key    goal.Key
}

// NewLog creates a progress log bound to a goal.
// The sink is optional; if nil, lines are only logged.
func NewLog(key goal.Key, logger *slog.Logger, sink *Sink) *Log {
	return &Log{
		logger: logger,
		sink:   sink,
		key:    key,
	}
}

// Write logs the line and stores it in the sink if present.
func (l *Log) Write(line string) {
	l.logger.Info(line, "lifecycle_id", l.key.Lifecycle, "goal", l.key.Goal)
	if l.sink != nil {
		l.sink.Append(l.key, line)
	}
}

// Factory returns a goal.Factory that binds a Log to each goal.
func Factory(logger *slog.Logger, sink *Sink) goal.Factory[goal.ProgressLog] {
	logger = logger.With("component", "progress")
	return func(key goal.Key) goal.ProgressLog {
		return NewLog(key, logger, sink)
	}
}

// CaptureError runs f and writes its error, if any, to the progress log.
func CaptureError(log goal.ProgressLog, f func() error) error {
	err := f()
	if err != nil && log != nil {
		log.Write("❌ " + err.Error())
	}
	return err
}
