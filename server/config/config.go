// Package config holds the server runtime configuration: where to listen,
// which jobs run on which schedule, and where the delivery config lives.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/gosdm/logging"
)

const (
	defaultAddr         = ":8080"
	defaultLogLevel     = "info"
	defaultTickSchedule = "@every 15s"
	defaultPruneJob     = "0 3 * * *"
)

// ServerConfig represents the server runtime configuration.
type ServerConfig struct {
	Listener ListenerConfig `yaml:"listener"`
	Cron     []CronTrigger  `yaml:"cron"`
	LogLevel string         `yaml:"log_level"`
	// The path to the delivery config file
	DeliveryConfig string `yaml:"delivery_config"`
}

// ListenerConfig holds HTTP server listener settings.
type ListenerConfig struct {
	// The listen address, defaults to :8080
	Addr string `yaml:"addr"`
}

// CronTrigger defines a set of jobs to run on a schedule.
type CronTrigger struct {
	// The jobs to run, in order: tick, prune
	Jobs []string `yaml:"jobs"`
	// The cron spec to execute the jobs at
	Schedule string `yaml:"schedule"`
}

// LoadConfig reads the YAML config file at the given path and returns a ServerConfig struct.
func LoadConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open server config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML server config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config %s: %w", path, err)
	}
	return &cfg, nil
}

// SetDefaults sets reasonable default values for optional fields. Without a
// cron section lifecycles are ticked every 15 seconds and pruned nightly.
func (c *ServerConfig) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if len(c.Cron) == 0 {
		c.Cron = []CronTrigger{
			{Jobs: []string{"tick"}, Schedule: defaultTickSchedule},
			{Jobs: []string{"prune"}, Schedule: defaultPruneJob},
		}
	}
}

// Validate checks the fields that have no usable default.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.DeliveryConfig == "" {
		errs = append(errs, errors.New("delivery_config is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for i, t := range c.Cron {
		if len(t.Jobs) == 0 {
			errs = append(errs, fmt.Errorf("cron[%d]: no jobs", i))
		}
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("cron[%d]: no schedule", i))
		}
		if strings.ContainsAny(t.Schedule, ";:") {
			errs = append(errs, fmt.Errorf("cron[%d]: schedule %q may not contain ';' or ':'", i, t.Schedule))
		}
	}
	return errors.Join(errs...)
}

// CronSpec renders the cron section in the form server/cron.ParseJobSpecs
// reads, e.g. "tick:@every 15s;prune:0 3 * * *".
func (c *ServerConfig) CronSpec() string {
	parts := make([]string, 0, len(c.Cron))
	for _, t := range c.Cron {
		parts = append(parts, strings.Join(t.Jobs, ",")+":"+t.Schedule)
	}
	return strings.Join(parts, ";")
}
