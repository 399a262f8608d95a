// Package handlers provides HTTP handlers for the gosdm server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"context"
	"time"

	"github.com/nomis52/gosdm/config"
	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/lifecycle"
	"github.com/nomis52/gosdm/server/runner"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Reloader can reload its configuration.
type Reloader interface {
	Reload() error
}

// LifecycleProvider reads stored lifecycles.
type LifecycleProvider interface {
	Get(ctx context.Context, id string) (*lifecycle.Lifecycle, error)
	List(ctx context.Context) ([]*lifecycle.Lifecycle, error)
}

// LogProvider returns what the goals of a lifecycle recorded.
type LogProvider interface {
	Logs(ctx context.Context, id string) ([]runner.GoalLogs, error)
}

// PushSubmitter plans goals for a push.
type PushSubmitter interface {
	Submit(ctx context.Context, push goal.Push, interp interpret.Interpretation) ([]*lifecycle.Lifecycle, error)
}

// Canceller cancels lifecycles.
type Canceller interface {
	Cancel(ctx context.Context, id, reason string) (*lifecycle.Lifecycle, error)
}

// Ticker advances active lifecycles.
type Ticker interface {
	Tick(ctx context.Context) error
}

// APIStatusProvider aggregates the providers needed for the status endpoint.
type APIStatusProvider interface {
	Summary(ctx context.Context) (runner.Summary, error)
	NextRun() *time.Time
}
