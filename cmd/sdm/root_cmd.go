package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosdm/config"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/logging"
	"github.com/nomis52/gosdm/readiness"
	"github.com/nomis52/gosdm/workflows"
	"github.com/nomis52/gosdm/workflows/testdeploy"
)

const EnvVariableConfig = "GOSDM_CONFIG"

type rootOpts struct {
	ConfigPath string
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
sdm plans and runs goal lifecycles for pushed commits.

Workflow:
  sdm validate -c delivery.yaml                                  # Is the configuration usable?
  sdm plan -c delivery.yaml --elements k8s                       # Which goals would a push get?
  sdm run -c delivery.yaml --repo acme/web --sha abc1234 \
      --image registry.example.com/acme/web:abc1234 --elements k8s  # Deploy, verify and stop.
  sdm verify -c delivery.yaml --host web-main-t123.g.example.com # Wait for an app to answer.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sdm",
		Long:         rootLongHelp,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		fmt.Sprintf("path to the delivery config; you can also set the environment variable %s", EnvVariableConfig))

	cmd.AddCommand(
		newPlan(opts).Command(),
		newRun(opts).Command(),
		newVerify(opts).Command(),
		newValidate(opts).Command(),
		newVersionCommand(),
	)

	return cmd
}

// loadConfig reads the delivery config named by --config or the environment.
func (opts *rootOpts) loadConfig() (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv(EnvVariableConfig)
	}
	if path == "" {
		return nil, newUsageError("a delivery config is required (-c or " + EnvVariableConfig + ")")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newLogger builds the logger described by the logging section.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// newReadiness builds the readiness client described by the verify section.
func newReadiness(cfg *config.Config, logger *slog.Logger) *readiness.Client {
	return readiness.NewClient(
		readiness.WithRateLimit(cfg.Verify.RateLimit, cfg.Verify.Burst),
		readiness.WithLogger(logger),
	)
}

// newAnalyzer builds an analyzer holding every goal set the CLI knows.
func newAnalyzer(cfg *config.Config, logger *slog.Logger, target kube.Target) (*interpret.Analyzer, error) {
	interp, err := testdeploy.NewInterpreter(workflows.Params{
		Config:    cfg,
		Logger:    logger,
		Target:    target,
		Readiness: newReadiness(cfg, logger),
	})
	if err != nil {
		return nil, err
	}
	return interpret.NewAnalyzer(
		interpret.WithInterpreter(interp),
		interpret.WithDisabledRepos(cfg.Delivery.DisabledRepos...),
		interpret.WithLogger(logger),
	), nil
}
