package testdeploy

import (
	"context"
	"fmt"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/readiness"
)

func (w *workflow) verifyGoal() *goal.Definition {
	return &goal.Definition{
		UniqueName:  VerifyGoal,
		DisplayName: "verify `testing` deploy",
		Environment: environment,
		Descriptions: goal.Descriptions{
			InProcess: "Verifying `testing` deploy",
			Completed: "Verified `testing` deploy",
		},
		Precondition: &goal.Precondition{
			Retries:  w.cfg.Verify.Retries,
			Interval: w.cfg.Verify.Interval,
			Check:    w.verifyReady,
			Progress: w.verifyProgress,
		},
		Executor: goal.ExecutorFunc(w.verify),
	}
}

// verifyReady reports whether the deployed host answers. A failed exchange
// means not ready yet; only missing deploy data is an error.
func (w *workflow) verifyReady(ctx context.Context, gc *goal.Context) (bool, error) {
	app, err := deployedApp(gc)
	if err != nil {
		return false, err
	}

	url := readiness.URLFor(w.cfg.Verify.URLTemplate, app.Host)
	if _, err := w.readiness.Exchange(ctx, url); err != nil {
		gc.Logger.Debug("application not ready", "url", url, "error", err)
		return false, nil
	}
	return true, nil
}

func (w *workflow) verifyProgress(gc *goal.Context) goal.Progress {
	return goal.Progress{Description: "Verifying " + codeLine(w.label(gc))}
}

func (w *workflow) verify(_ context.Context, gc *goal.Context) (goal.Result, error) {
	app, err := deployedApp(gc)
	if err != nil {
		return goal.Result{}, fmt.Errorf("verifying deploy: %w", err)
	}
	return goal.Result{
		Description:  "Verified " + codeLine(app.Label()),
		ExternalURLs: kube.ExternalURLs(app),
	}, nil
}

// label is "namespace:name" of the deployed app, falling back to the app
// the push would deploy.
func (w *workflow) label(gc *goal.Context) string {
	if app, err := deployedApp(gc); err == nil {
		return app.Label()
	}
	return w.app(gc.Push).Label()
}
