// Package config holds the delivery configuration: which workspace the
// machine deploys for, how test deployments are built and verified, and
// where lifecycle state is kept.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/gosdm/logging"
)

const (
	defaultEnvironment = "testing"

	defaultDomain          = "g.atomist.com"
	defaultImagePullSecret = "sdm-imagepullsecret"
	defaultIngressClass    = "nginx"
	defaultPort            = 8080
	defaultPath            = "/"

	defaultVerifyRetries  = 60
	defaultVerifyInterval = 10 * time.Second
	defaultURLTemplate    = "https://dns-api.org/A/{host}"
	defaultRateLimit      = 5.0
	defaultRateBurst      = 5
	defaultVerifyTimeout  = 10 * time.Second

	defaultStopRetries  = 20
	defaultStopInterval = time.Minute
	defaultStopAfter    = 10 * time.Minute

	defaultContextPrefix = "sdm"

	defaultStoreType = StoreMemory
	defaultRetention = 7 * 24 * time.Hour

	defaultMetricsPrefix = "gosdm"
	defaultJobName       = "sdm"

	redacted = "REDACTED"
)

// Store types.
const (
	StoreMemory   = "memory"
	StoreDisk     = "disk"
	StorePostgres = "postgres"
)

// Config is the complete delivery configuration.
type Config struct {
	// WorkspaceID is the workspace deployments are made for. It appears in
	// namespaces and hosts.
	WorkspaceID string `yaml:"workspace_id"`

	// Environment is the SDM environment, e.g. "testing" or "production".
	Environment string `yaml:"environment"`

	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Deploy     DeployConfig     `yaml:"deploy"`
	Verify     VerifyConfig     `yaml:"verify"`
	Stop       StopConfig       `yaml:"stop"`
	GitHub     GitHubConfig     `yaml:"github"`
	Store      StoreConfig      `yaml:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    logging.Config   `yaml:"logging"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
}

// KubernetesConfig selects the cluster. Empty values mean in-cluster config
// or the default kubeconfig.
type KubernetesConfig struct {
	Kubeconfig string `yaml:"kubeconfig"`
	Context    string `yaml:"context"`
}

// DeployConfig shapes the test deployment.
type DeployConfig struct {
	Domain          string `yaml:"domain"`
	ImagePullSecret string `yaml:"image_pull_secret"`
	IngressClass    string `yaml:"ingress_class"`
	Port            int    `yaml:"port"`
	Path            string `yaml:"path"`
	// Mongo attaches the built-in MongoDB sidecar to every deployment.
	Mongo bool `yaml:"mongo"`
}

// VerifyConfig controls the readiness precondition of the verify goal.
type VerifyConfig struct {
	Retries     int           `yaml:"retries"`
	Interval    time.Duration `yaml:"interval"`
	URLTemplate string        `yaml:"url_template"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StopConfig controls when the test deployment is torn down.
type StopConfig struct {
	Retries  int           `yaml:"retries"`
	Interval time.Duration `yaml:"interval"`
	// After is how long after the stop goal is planned the deployment stays up.
	After time.Duration `yaml:"after"`
}

// GitHubConfig enables commit status publishing when Token is set.
type GitHubConfig struct {
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"base_url"`
	ContextPrefix string `yaml:"context_prefix"`
	// TargetURL may contain {id}, replaced with the lifecycle id.
	TargetURL string `yaml:"target_url"`
}

// StoreConfig selects where lifecycles are persisted.
type StoreConfig struct {
	Type        string        `yaml:"type"`
	Dir         string        `yaml:"dir"`
	DatabaseURL string        `yaml:"database_url"`
	Retention   time.Duration `yaml:"retention"`
}

// MonitoringConfig holds metrics push settings used by the CLI.
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// DeliveryConfig holds repository level switches.
type DeliveryConfig struct {
	// DisabledRepos lists "owner/repo" slugs that never get goals.
	DisabledRepos []string `yaml:"disabled_repos"`
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if c.Deploy.Port < 0 || c.Deploy.Port > 65535 {
		return fmt.Errorf("deploy port %d out of range", c.Deploy.Port)
	}
	if c.Verify.Retries < 0 {
		return fmt.Errorf("verify retries must be >= 0")
	}
	if c.Verify.Interval <= 0 {
		return fmt.Errorf("verify interval must be positive")
	}
	if !strings.Contains(c.Verify.URLTemplate, "{host}") {
		return fmt.Errorf("verify url_template must contain {host}")
	}
	if c.Stop.Retries < 0 {
		return fmt.Errorf("stop retries must be >= 0")
	}
	if c.Stop.Interval <= 0 {
		return fmt.Errorf("stop interval must be positive")
	}
	if c.Stop.After < 0 {
		return fmt.Errorf("stop after must not be negative")
	}
	switch c.Store.Type {
	case StoreMemory:
	case StoreDisk:
		if c.Store.Dir == "" {
			return fmt.Errorf("store dir is required for the disk store")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store database_url is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	for _, slug := range c.Delivery.DisabledRepos {
		if owner, repo, ok := strings.Cut(slug, "/"); !ok || owner == "" || repo == "" {
			return fmt.Errorf("disabled repo %q is not owner/repo", slug)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// New returns a Config with the precondition budgets filled in. Zero is a
// valid retry count and stop delay, so those defaults are seeded before
// decoding and only apply when the keys are absent.
func New() Config {
	return Config{
		Verify: VerifyConfig{Retries: defaultVerifyRetries},
		Stop: StopConfig{
			Retries: defaultStopRetries,
			After:   defaultStopAfter,
		},
	}
}

// SetDefaults sets default values for optional fields. Retry counts and the
// stop delay are left alone; see New.
func (c *Config) SetDefaults() {
	if c.Environment == "" {
		c.Environment = defaultEnvironment
	}

	if c.Deploy.Domain == "" {
		c.Deploy.Domain = defaultDomain
	}
	if c.Deploy.ImagePullSecret == "" {
		c.Deploy.ImagePullSecret = defaultImagePullSecret
	}
	if c.Deploy.IngressClass == "" {
		c.Deploy.IngressClass = defaultIngressClass
	}
	if c.Deploy.Port == 0 {
		c.Deploy.Port = defaultPort
	}
	if c.Deploy.Path == "" {
		c.Deploy.Path = defaultPath
	}

	if c.Verify.Interval == 0 {
		c.Verify.Interval = defaultVerifyInterval
	}
	if c.Verify.URLTemplate == "" {
		c.Verify.URLTemplate = defaultURLTemplate
	}
	if c.Verify.RateLimit == 0 {
		c.Verify.RateLimit = defaultRateLimit
	}
	if c.Verify.Burst == 0 {
		c.Verify.Burst = defaultRateBurst
	}
	if c.Verify.Timeout == 0 {
		c.Verify.Timeout = defaultVerifyTimeout
	}

	if c.Stop.Interval == 0 {
		c.Stop.Interval = defaultStopInterval
	}

	if c.GitHub.ContextPrefix == "" {
		c.GitHub.ContextPrefix = defaultContextPrefix
	}

	if c.Store.Type == "" {
		c.Store.Type = defaultStoreType
	}
	if c.Store.Retention == 0 {
		c.Store.Retention = defaultRetention
	}

	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}

	c.Logging.SetDefaults()
}

// Redacted returns a copy with secrets replaced, suitable for display.
func (c *Config) Redacted() *Config {
	r := *c
	r.Delivery.DisabledRepos = slices.Clone(c.Delivery.DisabledRepos)
	if r.GitHub.Token != "" {
		r.GitHub.Token = redacted
	}
	if r.Store.DatabaseURL != "" {
		if u, err := url.Parse(r.Store.DatabaseURL); err == nil && u.Scheme != "" {
			r.Store.DatabaseURL = u.Redacted()
		} else {
			r.Store.DatabaseURL = redacted
		}
	}
	return &r
}

// LoadConfig reads the YAML config file at path, applies defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := New()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
