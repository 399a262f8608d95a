package testdeploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/kube"
)

func (w *workflow) stopGoal() *goal.Definition {
	return &goal.Definition{
		UniqueName:  StopGoal,
		DisplayName: "stop `testing` deploy",
		Environment: environment,
		Descriptions: goal.Descriptions{
			InProcess: "Stopping `testing` deploy",
			Completed: "Stopped `testing` deploy",
		},
		Precondition: &goal.Precondition{
			Retries:  w.cfg.Stop.Retries,
			Interval: w.cfg.Stop.Interval,
			Check:    w.stopDue,
			Progress: w.stopProgress,
		},
		Executor: goal.ExecutorFunc(w.stop),
	}
}

// stopAt is when the test deployment should be torn down.
func (w *workflow) stopAt(st goal.Status) time.Time {
	return st.Attempt.PlannedAt.Add(w.cfg.Stop.After)
}

// stopDue is ready once the deadline has passed. The precondition window
// still applies: if it runs out first the goal fails.
func (w *workflow) stopDue(_ context.Context, gc *goal.Context) (bool, error) {
	return !gc.Now.Before(w.stopAt(gc.Goal)), nil
}

func (w *workflow) stopProgress(gc *goal.Context) goal.Progress {
	remaining := w.stopAt(gc.Goal).Sub(gc.Now)
	return goal.Progress{
		Description: "Stopping " + codeLine(w.label(gc)),
		Phase:       "in " + minutes(remaining),
	}
}

func (w *workflow) stop(ctx context.Context, gc *goal.Context) (goal.Result, error) {
	app := w.app(gc.Push)
	if deployed, err := deployedApp(gc); err == nil {
		app = deployed
	}

	gc.Progress.Write("Stopping test deployment")
	err := w.target.DeleteDeployment(ctx, app.Namespace, app.Name)
	switch {
	case errors.Is(err, kube.ErrNotFound):
		gc.Logger.Info("test deployment already gone", "namespace", app.Namespace, "name", app.Name)
	case err != nil:
		gc.Progress.Write(fmt.Sprintf("Failed to delete test deployment: %v", err))
		gc.Logger.Warn("failed to delete test deployment", "namespace", app.Namespace, "name", app.Name, "error", err)
		return goal.Result{Code: 1}, nil
	}

	return goal.Result{Description: "Stopped " + codeLine(app.Label())}, nil
}

// minutes renders d rounded to whole minutes, e.g. "7m".
func minutes(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%dm", int(d.Round(time.Minute)/time.Minute))
}
