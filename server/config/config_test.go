package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "delivery_config: /etc/gosdm/delivery.yaml\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listener.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/etc/gosdm/delivery.yaml", cfg.DeliveryConfig)
	assert.Equal(t, "tick:@every 15s;prune:0 3 * * *", cfg.CronSpec())
}

func TestLoadConfig_Cron(t *testing.T) {
	path := writeConfig(t, `
listener:
  addr: ":9090"
log_level: debug
delivery_config: delivery.yaml
cron:
  - jobs: [tick, prune]
    schedule: "@every 1m"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listener.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tick,prune:@every 1m", cfg.CronSpec())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing delivery config",
			content: "log_level: info\n",
			want:    "delivery_config is required",
		},
		{
			name:    "bad log level",
			content: "delivery_config: d.yaml\nlog_level: loud\n",
			want:    "unknown log level",
		},
		{
			name:    "cron without jobs",
			content: "delivery_config: d.yaml\ncron:\n  - schedule: \"@hourly\"\n",
			want:    "cron[0]: no jobs",
		},
		{
			name:    "separator in schedule",
			content: "delivery_config: d.yaml\ncron:\n  - jobs: [tick]\n    schedule: \"@every 1s;prune\"\n",
			want:    "may not contain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open server config file")
}
