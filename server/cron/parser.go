package cron

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	triggerSeparator = ";"
	jobSeparator     = ":"
	jobListSeparator = ","
)

// JobSpec is a parsed trigger: the jobs to run, in order, and their schedule.
type JobSpec struct {
	Jobs     []string
	CronSpec string
}

// ParseJobSpecs parses a multi-trigger schedule string into individual job specs.
// The format is: job1,job2:cron_expression;job3:cron_expression2
//
// Example:
//
//	"tick:@every 15s;prune:0 3 * * *"
//
// Returns an error if:
//   - Any trigger is missing jobs or cron expression
//   - Any job name is not in availableJobs
//   - Any cron expression is invalid
//   - Any trigger has duplicate jobs
func ParseJobSpecs(spec string, availableJobs map[string]bool) ([]JobSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	triggerStrs := strings.Split(spec, triggerSeparator)
	specs := make([]JobSpec, 0, len(triggerStrs))

	for _, triggerStr := range triggerStrs {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue
		}

		jobSpec, err := parseSingleTrigger(triggerStr, availableJobs)
		if err != nil {
			return nil, err
		}
		specs = append(specs, jobSpec)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}

	return specs, nil
}

func parseSingleTrigger(triggerStr string, availableJobs map[string]bool) (JobSpec, error) {
	parts := strings.Split(triggerStr, jobSeparator)
	if len(parts) != 2 {
		return JobSpec{}, fmt.Errorf("invalid trigger spec: expected format 'jobs:cron', got '%s'", triggerStr)
	}

	jobsStr := strings.TrimSpace(parts[0])
	cronSpec := strings.TrimSpace(parts[1])

	if jobsStr == "" {
		return JobSpec{}, fmt.Errorf("invalid trigger spec: missing jobs in '%s'", triggerStr)
	}
	if cronSpec == "" {
		return JobSpec{}, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
	}

	jobStrs := strings.Split(jobsStr, jobListSeparator)
	jobs := make([]string, 0, len(jobStrs))
	seen := make(map[string]bool, len(jobStrs))

	for _, j := range jobStrs {
		j = strings.TrimSpace(j)
		if j == "" {
			continue
		}
		if seen[j] {
			return JobSpec{}, fmt.Errorf("invalid trigger spec: duplicate job '%s' in '%s'", j, triggerStr)
		}
		seen[j] = true

		if !availableJobs[j] {
			return JobSpec{}, fmt.Errorf("invalid trigger spec: unknown job '%s' in '%s' (available: %s)",
				j, triggerStr, formatAvailableJobs(availableJobs))
		}
		jobs = append(jobs, j)
	}

	if len(jobs) == 0 {
		return JobSpec{}, fmt.Errorf("invalid trigger spec: no valid jobs in '%s'", triggerStr)
	}

	if _, err := parser.Parse(cronSpec); err != nil {
		return JobSpec{}, fmt.Errorf("invalid trigger spec: invalid cron expression in '%s': %w", triggerStr, err)
	}

	return JobSpec{
		Jobs:     jobs,
		CronSpec: cronSpec,
	}, nil
}

func formatAvailableJobs(availableJobs map[string]bool) string {
	jobs := make([]string, 0, len(availableJobs))
	for j := range availableJobs {
		jobs = append(jobs, j)
	}
	slices.Sort(jobs)
	return strings.Join(jobs, ", ")
}
