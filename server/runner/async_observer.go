package runner

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/nomis52/gosdm/lifecycle"
)

// DefaultObserverQueue is the number of changes an AsyncObserver buffers.
const DefaultObserverQueue = 256

type observation struct {
	lc          *lifecycle.Lifecycle
	transitions []lifecycle.Transition
}

// AsyncObserver hands changes to a wrapped Observer on its own goroutine,
// so slow observers such as remote status publishers never hold a
// lifecycle's lock. Changes are delivered in the order they were observed.
// When the queue is full the change is dropped and logged.
type AsyncObserver struct {
	next   Observer
	logger *slog.Logger
	queue  chan observation

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ Observer = (*AsyncObserver)(nil)

// NewAsyncObserver starts delivering changes to next. size <= 0 uses
// DefaultObserverQueue.
func NewAsyncObserver(next Observer, size int, logger *slog.Logger) *AsyncObserver {
	if size <= 0 {
		size = DefaultObserverQueue
	}
	a := &AsyncObserver{
		next:   next,
		logger: logger.With("component", "async_observer"),
		queue:  make(chan observation, size),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Observe implements Observer. It never blocks.
func (a *AsyncObserver) Observe(_ context.Context, lc *lifecycle.Lifecycle, transitions []lifecycle.Transition) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	obs := observation{lc: lc.Clone(), transitions: slices.Clone(transitions)}
	select {
	case a.queue <- obs:
	default:
		a.logger.Warn("observer queue full, dropping change", "lifecycle_id", lc.ID, "transitions", len(transitions))
	}
}

// Close stops accepting changes and waits for queued ones to be delivered.
func (a *AsyncObserver) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for obs := range a.queue {
		a.deliver(obs)
	}
}

func (a *AsyncObserver) deliver(obs observation) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("observer panicked", "lifecycle_id", obs.lc.ID, "panic", r)
		}
	}()
	a.next.Observe(context.Background(), obs.lc, obs.transitions)
}
