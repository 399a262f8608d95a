package cron

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingJob is a test Job that counts its runs.
type countingJob struct {
	runCount atomic.Int32
	err      error
}

func (c *countingJob) Run() error {
	c.runCount.Add(1)
	return c.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestNewCronTrigger(t *testing.T) {
	job := &countingJob{}

	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "daily at 3am", spec: "0 3 * * *"},
		{name: "every minute", spec: "* * * * *"},
		{name: "every 15 seconds", spec: "@every 15s"},
		{name: "hourly descriptor", spec: "@hourly"},
		{name: "empty", spec: "", wantErr: true},
		{name: "wrong format", spec: "not a cron spec", wantErr: true},
		{name: "too few fields", spec: "0 2 *", wantErr: true},
		{name: "invalid value", spec: "60 2 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := NewCronTrigger("tick", tt.spec, job.Run, testLogger())

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCronSpec)
				assert.Nil(t, trigger)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec, trigger.spec)
		})
	}
}

func TestCronTrigger_NextRun(t *testing.T) {
	job := &countingJob{}
	trigger, err := NewCronTrigger("prune", "0 3 * * *", job.Run, testLogger())
	require.NoError(t, err)

	nextRun := trigger.NextRun()
	assert.True(t, nextRun.After(time.Now()), "next run should be in the future")
	assert.Equal(t, 3, nextRun.Hour())
	assert.Equal(t, 0, nextRun.Minute())
}

func TestCronTrigger_RunsOnSchedule(t *testing.T) {
	job := &countingJob{err: errors.New("lifecycle store unavailable")}
	trigger, err := NewCronTrigger("tick", "@every 1s", job.Run, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger.Start(ctx)

	assert.Eventually(t, func() bool {
		return job.runCount.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond, "errors do not stop the trigger")
}

func TestCronTrigger_Start_CancellationStopsLoop(t *testing.T) {
	job := &countingJob{}
	trigger, err := NewCronTrigger("tick", "* * * * *", job.Run, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	trigger.Start(ctx)

	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	// Cancelled before the first scheduled minute boundary in almost every case.
	assert.LessOrEqual(t, job.runCount.Load(), int32(1))
}
