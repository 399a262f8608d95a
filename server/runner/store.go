package runner

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/nomis52/gosdm/lifecycle"
)

// ErrNotFound is returned when a lifecycle id is unknown.
var ErrNotFound = errors.New("lifecycle not found")

// Store persists lifecycle snapshots.
type Store interface {
	// Save writes the snapshot, replacing any earlier revision.
	Save(ctx context.Context, lc *lifecycle.Lifecycle) error
	// Load returns the snapshot for id or ErrNotFound.
	Load(ctx context.Context, id string) (*lifecycle.Lifecycle, error)
	// List returns every snapshot, most recently created first.
	List(ctx context.Context) ([]*lifecycle.Lifecycle, error)
	// Prune removes finished lifecycles last updated before the cutoff and
	// returns their ids.
	Prune(ctx context.Context, before time.Time) ([]string, error)
}

// sortNewestFirst orders lifecycles by creation time, newest first. Ids
// break ties so listings are stable.
func sortNewestFirst(lcs []*lifecycle.Lifecycle) {
	slices.SortFunc(lcs, func(a, b *lifecycle.Lifecycle) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// prunable reports whether lc may be removed by a prune with the cutoff.
func prunable(lc *lifecycle.Lifecycle, before time.Time) bool {
	return !lc.Active() && lc.UpdatedAt.Before(before)
}
