// Package cron provides cron-based scheduling for the lifecycle runner's
// periodic jobs: ticking active lifecycles so preconditions get polled, and
// pruning finished ones.
//
// The CronTrigger type runs a Job according to a cron schedule. It is
// designed to be started once and run until the context is cancelled.
//
// Example usage:
//
//	trigger, err := cron.NewCronTrigger("tick", "@every 15s", runner.Run, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron expression cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Job is a unit of scheduled work.
type Job func() error

// parser accepts standard 5 field expressions and descriptors such as
// "@hourly" or "@every 15s".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronTrigger executes a Job according to a cron schedule.
type CronTrigger struct {
	name     string
	spec     string
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger
}

// NewCronTrigger creates a new CronTrigger with the given cron expression.
// Returns ErrInvalidCronSpec if the cron expression cannot be parsed.
func NewCronTrigger(name, spec string, job Job, logger *slog.Logger) (*CronTrigger, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &CronTrigger{
		name:     name,
		spec:     spec,
		schedule: schedule,
		job:      job,
		logger:   logger.With("trigger", name),
	}, nil
}

// Start launches a goroutine that runs the job according to the schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (ct *CronTrigger) Start(ctx context.Context) {
	go ct.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (ct *CronTrigger) NextRun() time.Time {
	return ct.schedule.Next(time.Now())
}

func (ct *CronTrigger) loop(ctx context.Context) {
	for {
		nextRun := ct.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(nextRun))

		ct.logger.Debug("waiting for next scheduled run", "next_run", nextRun)

		select {
		case <-ctx.Done():
			timer.Stop()
			ct.logger.Info("cron trigger shutting down")
			return
		case <-timer.C:
			ct.execute()
		}
	}
}

func (ct *CronTrigger) execute() {
	ct.logger.Debug("starting scheduled run")

	if err := ct.job(); err != nil {
		ct.logger.Warn("scheduled run completed with error", "error", err)
	} else {
		ct.logger.Debug("scheduled run completed successfully")
	}
}
