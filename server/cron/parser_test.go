package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAvailableJobs = map[string]bool{
	"tick":  true,
	"prune": true,
}

func TestParseJobSpecs_ValidSingleTrigger(t *testing.T) {
	specs, err := ParseJobSpecs("tick:*/1 * * * *", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	assert.Equal(t, []string{"tick"}, specs[0].Jobs)
	assert.Equal(t, "*/1 * * * *", specs[0].CronSpec)
}

func TestParseJobSpecs_Descriptors(t *testing.T) {
	specs, err := ParseJobSpecs("tick:@every 15s;prune:@daily", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "@every 15s", specs[0].CronSpec)
	assert.Equal(t, "@daily", specs[1].CronSpec)
}

func TestParseJobSpecs_ValidMultipleJobs(t *testing.T) {
	specs, err := ParseJobSpecs("tick,prune:0 3 * * *", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	assert.Equal(t, []string{"tick", "prune"}, specs[0].Jobs)
}

func TestParseJobSpecs_WhitespaceHandling(t *testing.T) {
	specs, err := ParseJobSpecs("  tick : @every 15s ; prune : 0 3 * * *  ", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, []string{"tick"}, specs[0].Jobs)
	assert.Equal(t, "@every 15s", specs[0].CronSpec)
	assert.Equal(t, []string{"prune"}, specs[1].Jobs)
	assert.Equal(t, "0 3 * * *", specs[1].CronSpec)
}

func TestParseJobSpecs_TrailingSemicolon(t *testing.T) {
	specs, err := ParseJobSpecs("tick:@every 15s;", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 1)
}

func TestParseJobSpecs_DuplicateJobsAcrossTriggers(t *testing.T) {
	specs, err := ParseJobSpecs("tick:@every 15s;tick:0 * * * *", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 2)
}

func TestParseJobSpecs_EmptyWorkflowInList(t *testing.T) {
	specs, err := ParseJobSpecs("tick,,prune:0 3 * * *", testAvailableJobs)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"tick", "prune"}, specs[0].Jobs)
}

func TestParseJobSpecs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr string
	}{
		{name: "empty spec", spec: "", wantErr: "cannot be empty"},
		{name: "whitespace only", spec: "   ", wantErr: "cannot be empty"},
		{name: "missing colon", spec: "tick,prune", wantErr: "expected format 'jobs:cron'"},
		{name: "missing jobs", spec: ":0 2 * * *", wantErr: "missing jobs"},
		{name: "missing schedule", spec: "tick:", wantErr: "missing cron schedule"},
		{name: "invalid expression", spec: "tick:invalid cron", wantErr: "invalid cron expression"},
		{name: "bad every", spec: "tick:@every soon", wantErr: "invalid cron expression"},
		{name: "unknown job", spec: "deploy:0 2 * * *", wantErr: "unknown job 'deploy'"},
		{name: "duplicate job", spec: "tick,tick:0 2 * * *", wantErr: "duplicate job 'tick'"},
		{name: "only semicolons", spec: ";;;", wantErr: "no valid triggers"},
		{name: "all jobs empty", spec: ",,:0 2 * * *", wantErr: "no valid jobs"},
		{name: "multiple colons", spec: "tick:0:2:* * *", wantErr: "expected format 'jobs:cron'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJobSpecs(tt.spec, testAvailableJobs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseJobSpecs_UnknownJobListsAvailable(t *testing.T) {
	_, err := ParseJobSpecs("deploy:0 2 * * *", testAvailableJobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(available: prune, tick)")
}
