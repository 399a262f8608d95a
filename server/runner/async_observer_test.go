package runner

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/lifecycle"
)

// Test Helpers
// ---------------------------------------------------------------------

// gatedObserver blocks every delivery until release is closed.
type gatedObserver struct {
	release chan struct{}

	mu  sync.Mutex
	ids []string
}

func newGatedObserver() *gatedObserver {
	return &gatedObserver{release: make(chan struct{})}
}

func (g *gatedObserver) Observe(_ context.Context, lc *lifecycle.Lifecycle, _ []lifecycle.Transition) {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids = append(g.ids, lc.ID)
}

func (g *gatedObserver) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ids...)
}

type panickingObserver struct{}

func (panickingObserver) Observe(context.Context, *lifecycle.Lifecycle, []lifecycle.Transition) {
	panic("status boom")
}

func observed(id string) *lifecycle.Lifecycle {
	return &lifecycle.Lifecycle{ID: id, Goals: []goal.Status{{UniqueName: "deploy", State: goal.InProcess}}}
}

// Tests
// ---------------------------------------------------------------------

func TestAsyncObserver_DoesNotBlock(t *testing.T) {
	gated := newGatedObserver()
	a := NewAsyncObserver(gated, 4, slog.Default())

	done := make(chan struct{})
	go func() {
		a.Observe(context.Background(), observed("lc-1"), nil)
		a.Observe(context.Background(), observed("lc-2"), nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked on a slow observer")
	}

	close(gated.release)
	a.Close()
	assert.Equal(t, []string{"lc-1", "lc-2"}, gated.seen())
}

func TestAsyncObserver_DropsWhenFull(t *testing.T) {
	gated := newGatedObserver()
	a := NewAsyncObserver(gated, 1, slog.Default())

	for i := range 5 {
		a.Observe(context.Background(), observed(string(rune('a'+i))), nil)
	}
	close(gated.release)
	a.Close()

	seen := gated.seen()
	assert.NotEmpty(t, seen)
	assert.Less(t, len(seen), 5)
	assert.Equal(t, "a", seen[0])
}

func TestAsyncObserver_CopiesSnapshot(t *testing.T) {
	gated := newGatedObserver()
	a := NewAsyncObserver(gated, 4, slog.Default())

	lc := observed("lc-1")
	a.Observe(context.Background(), lc, nil)
	lc.ID = "changed"

	close(gated.release)
	a.Close()
	assert.Equal(t, []string{"lc-1"}, gated.seen())
}

func TestAsyncObserver_SurvivesPanicsAndClose(t *testing.T) {
	a := NewAsyncObserver(panickingObserver{}, 0, slog.Default())

	assert.NotPanics(t, func() {
		a.Observe(context.Background(), observed("lc-1"), nil)
		a.Close()
		a.Observe(context.Background(), observed("lc-2"), nil)
		a.Close()
	})
}

func TestRunner_SlowObserverDoesNotDelayTicks(t *testing.T) {
	gated := newGatedObserver()
	async := NewAsyncObserver(gated, DefaultObserverQueue, slog.Default())
	h := newHarness(t, WithObserver(async))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
		if err == nil {
			err = h.runner.Tick(ctx)
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner waited on a slow observer")
	}

	close(gated.release)
	async.Close()
	assert.NotEmpty(t, gated.seen())
}
