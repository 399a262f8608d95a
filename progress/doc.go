// Package progress provides goal-scoped progress logs.
//
// Executors and checks write free-form lines describing what they are doing.
// Lines are both logged and collected so the server can show them next to
// the goal they belong to.
//
// # Architecture
//
// The package follows the handler/writer pattern of log/slog:
//
//   - Log: writes progress lines for one goal (analogous to slog.Logger)
//   - Sink: receives and stores lines for every goal (analogous to slog.Handler)
//
// # Usage
//
// The runner creates one Sink and hands the controller a factory that binds
// a Log to each goal:
//
//	sink := progress.NewSink()
//	ctrl, err := lifecycle.NewController(plan,
//	    lifecycle.WithProgressFactory(progress.Factory(logger, sink)))
//
// Executors then write through the goal context:
//
//	gc.Progress.Write("Stopping test deployment")
//
// # Error Capturing
//
// CaptureError writes a failed operation's error to the log:
//
//	return progress.CaptureError(gc.Progress, func() error {
//	    return target.DeleteDeployment(ctx, ns, name)
//	})
package progress
