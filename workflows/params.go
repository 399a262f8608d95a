// Package workflows holds the goal sets this delivery machine knows how to
// plan. Each subpackage builds a lifecycle.Plan from the shared Params.
package workflows

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nomis52/gosdm/config"
	"github.com/nomis52/gosdm/kube"
)

// Exchanger performs a readiness exchange against a URL. readiness.Client
// implements it.
type Exchanger interface {
	Exchange(ctx context.Context, url string) (int, error)
}

// Params contains the collaborators goal sets are built from.
type Params struct {
	// Config is the delivery configuration, with defaults applied.
	Config *config.Config

	// Logger is the base logger for plan construction. Goals log through
	// the per-goal logger in their goal.Context.
	Logger *slog.Logger

	// Target is the cluster deployments are applied to.
	Target kube.Target

	// Readiness checks whether a deployed application answers.
	Readiness Exchanger
}

// Validate checks every collaborator is present.
func (p Params) Validate() error {
	var errs []error
	if p.Config == nil {
		errs = append(errs, errors.New("config is required"))
	}
	if p.Target == nil {
		errs = append(errs, errors.New("deployment target is required"))
	}
	if p.Readiness == nil {
		errs = append(errs, errors.New("readiness client is required"))
	}
	return errors.Join(errs...)
}

// LoggerOrDefault returns Logger, or slog.Default() when unset.
func (p Params) LoggerOrDefault() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
