package testdeploy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/progress"
)

func (w *workflow) deployGoal() *goal.Definition {
	return &goal.Definition{
		UniqueName:  DeployGoal,
		DisplayName: "deploy to `testing`",
		Environment: environment,
		Descriptions: goal.Descriptions{
			Planned:   "Deploy to `testing`",
			InProcess: "Deploying to `testing`",
			Completed: "Deployed to `testing`",
			Failed:    "Failed to deploy to `testing`",
		},
		Executor: goal.ExecutorFunc(w.deploy),
	}
}

// deploy applies the namespace, deployment, service and ingress for the
// push and publishes the resulting App as goal data.
func (w *workflow) deploy(ctx context.Context, gc *goal.Context) (goal.Result, error) {
	app := w.app(gc.Push)
	if app.Image == "" {
		return goal.Result{}, fmt.Errorf("push %s has no image to deploy", gc.Push.Slug())
	}

	regs := w.registrations(gc)
	gc.Progress.Write(fmt.Sprintf("Deploying %s to %s", app.Image, app.Label()))

	var warnings []kube.Warning
	err := progress.CaptureError(gc.Progress, func() error {
		var err error
		warnings, err = kube.Apply(ctx, w.target, app, regs)
		return err
	})
	skipped := make(map[string]bool, len(warnings))
	for _, warning := range warnings {
		skipped[warning.Name] = true
		gc.Logger.Warn("service not merged", "service", warning.Name, "reason", warning.Message)
		gc.Progress.Write("Warning: " + warning.String())
	}
	if err != nil {
		return goal.Result{}, fmt.Errorf("deploying %s: %w", app.Label(), err)
	}

	for _, reg := range regs {
		if !skipped[reg.Name] {
			app.Sidecars = append(app.Sidecars, reg.Name)
		}
	}

	data, err := json.Marshal(app)
	if err != nil {
		return goal.Result{}, fmt.Errorf("encoding app data: %w", err)
	}
	gc.Logger.Info("deployed application", "namespace", app.Namespace, "name", app.Name, "host", app.Host)

	return goal.Result{
		Description:  "Deployed " + codeLine(app.Label()),
		ExternalURLs: kube.ExternalURLs(app),
		Data:         data,
	}, nil
}

// registrations parses the push's service registrations and adds the
// built-in ones. Problems are reported on the progress log, never dropped.
func (w *workflow) registrations(gc *goal.Context) []kube.ServiceRegistration {
	regs, warnings, err := kube.ParseRegistrations(gc.Push.Services)
	if err != nil {
		gc.Logger.Warn("ignoring service registrations", "error", err)
		gc.Progress.Write("Ignoring service registrations: " + err.Error())
		regs = nil
	}
	for _, warning := range warnings {
		gc.Logger.Warn("ignoring service registration", "service", warning.Name, "reason", warning.Message)
		gc.Progress.Write("Warning: " + warning.String())
	}
	if w.cfg.Deploy.Mongo {
		regs = append(regs, kube.MongoService())
	}
	return regs
}
