package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CronTriggerManager manages multiple CronTrigger instances with different jobs and schedules.
type CronTriggerManager struct {
	triggers []*CronTrigger
	logger   *slog.Logger
}

// NewCronTriggerManager creates a new CronTriggerManager from a multi-trigger schedule string.
// The schedule string format is: job1,job2:cron_expression;job3:cron_expression2
//
// Example:
//
//	"tick:@every 15s;prune:0 3 * * *"
//
// jobs maps every schedulable job name to its function. Jobs listed
// together in one trigger run in order; a failing job does not stop the
// ones after it.
func NewCronTriggerManager(spec string, jobs map[string]Job, logger *slog.Logger) (*CronTriggerManager, error) {
	available := make(map[string]bool, len(jobs))
	for name := range jobs {
		available[name] = true
	}

	jobSpecs, err := ParseJobSpecs(spec, available)
	if err != nil {
		return nil, err
	}

	triggers := make([]*CronTrigger, 0, len(jobSpecs))
	for _, js := range jobSpecs {
		names := js.Jobs
		run := func() error {
			var errs []error
			for _, name := range names {
				if err := jobs[name](); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			return errors.Join(errs...)
		}

		label := strings.Join(names, jobListSeparator)
		trigger, err := NewCronTrigger(label, js.CronSpec, run, logger)
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s:%s': %w", label, js.CronSpec, err)
		}
		triggers = append(triggers, trigger)
	}

	for i, trigger := range triggers {
		logger.Info("trigger registered",
			"index", i,
			"jobs", jobSpecs[i].Jobs,
			"schedule", jobSpecs[i].CronSpec,
			"next_run", trigger.NextRun(),
		)
	}

	return &CronTriggerManager{
		triggers: triggers,
		logger:   logger,
	}, nil
}

// Start launches all triggers. Each trigger runs in its own goroutine.
// Returns immediately. All goroutines exit when ctx is cancelled.
func (m *CronTriggerManager) Start(ctx context.Context) {
	for _, trigger := range m.triggers {
		trigger.Start(ctx)
	}
}

// NextRun returns the earliest scheduled run time across all triggers.
// Returns zero time if there are no triggers.
func (m *CronTriggerManager) NextRun() time.Time {
	if len(m.triggers) == 0 {
		return time.Time{}
	}

	earliest := m.triggers[0].NextRun()
	for i := 1; i < len(m.triggers); i++ {
		next := m.triggers[i].NextRun()
		if next.Before(earliest) {
			earliest = next
		}
	}

	return earliest
}
