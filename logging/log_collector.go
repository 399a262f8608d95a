package logging

import (
	"sync"
	"time"

	"github.com/nomis52/gosdm/goal"
)

// LogEntry is a single captured record.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCollector stores captured records per goal.
type LogCollector struct {
	mu   sync.RWMutex
	logs map[goal.Key][]LogEntry
}

// NewLogCollector creates an empty collector.
func NewLogCollector() *LogCollector {
	return &LogCollector{
		logs: make(map[goal.Key][]LogEntry),
	}
}

// Add appends an entry for a goal.
func (c *LogCollector) Add(key goal.Key, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs[key] = append(c.logs[key], entry)
}

// Logs returns a copy of a goal's entries, or nil if there are none.
func (c *LogCollector) Logs(key goal.Key) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, ok := c.logs[key]
	if !ok {
		return nil
	}
	out := make([]LogEntry, len(logs))
	copy(out, logs)
	return out
}

// ForLifecycle returns copies of every goal's entries in a lifecycle, keyed
// by goal name.
func (c *LogCollector) ForLifecycle(id string) map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]LogEntry)
	for k, logs := range c.logs {
		if k.Lifecycle != id {
			continue
		}
		cp := make([]LogEntry, len(logs))
		copy(cp, logs)
		out[k.Goal] = cp
	}
	return out
}

// Forget drops the entries of a lifecycle.
func (c *LogCollector) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.logs {
		if k.Lifecycle == id {
			delete(c.logs, k)
		}
	}
}

// Clear removes everything.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = make(map[goal.Key][]LogEntry)
}
