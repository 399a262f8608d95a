package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/lifecycle"
	"github.com/nomis52/gosdm/metrics"
	"github.com/nomis52/gosdm/server/runner"
)

type runOpts struct {
	*rootOpts
	repo     string
	branch   string
	sha      string
	image    string
	services string
	elements []string
	dryRun   bool
	tick     time.Duration
	timeout  time.Duration
}

func newRun(parent *rootOpts) *runOpts {
	return &runOpts{rootOpts: parent}
}

func (opts *runOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan goals for one push and drive them to completion",
		Example: makeExample(
			"sdm run -c delivery.yaml --repo acme/web --sha abc1234 --image registry.example.com/acme/web:abc1234 --elements k8s",
			"sdm run -c delivery.yaml --repo acme/web --sha abc1234 --image web:abc1234 --elements k8s --dry-run",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.repo, "repo", "r", "", "Repository as owner/repo")
	cmd.Flags().StringVarP(&opts.branch, "branch", "b", "", "Branch that was pushed")
	cmd.Flags().StringVar(&opts.sha, "sha", "", "Commit that was pushed")
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "Container image built for the push")
	cmd.Flags().StringVar(&opts.services, "services", "", "File holding service registrations as JSON")
	cmd.Flags().StringSliceVarP(&opts.elements, "elements", "e", nil, "Detected stack elements, e.g. k8s")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print cluster changes instead of applying them")
	cmd.Flags().DurationVar(&opts.tick, "tick", 5*time.Second, "How often waiting goals are re-checked")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Hour, "Give up after this long")
	return cmd
}

func (opts *runOpts) push() (goal.Push, error) {
	owner, repo, ok := strings.Cut(opts.repo, "/")
	if !ok || owner == "" || repo == "" {
		return goal.Push{}, newUsageError("--repo must be owner/repo")
	}
	if opts.sha == "" {
		return goal.Push{}, newUsageError("--sha is required")
	}
	push := goal.Push{Owner: owner, Repo: repo, Branch: opts.branch, SHA: opts.sha, Image: opts.image}
	if opts.services != "" {
		data, err := os.ReadFile(opts.services)
		if err != nil {
			return goal.Push{}, fmt.Errorf("reading services: %w", err)
		}
		if !json.Valid(data) {
			return goal.Push{}, fmt.Errorf("services file %s is not valid JSON", opts.services)
		}
		push.Services = data
	}
	return push, nil
}

func (opts *runOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	push, err := opts.push()
	if err != nil {
		return err
	}
	if opts.tick <= 0 {
		return newUsageError("--tick must be positive")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	var target kube.Target = dryRunTarget{out: cmd.OutOrStdout()}
	if !opts.dryRun {
		client, err := kube.NewClientFromConfig(cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Context, kube.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("connecting to cluster: %w", err)
		}
		target = client
	}

	analyzer, err := newAnalyzer(cfg, logger, target)
	if err != nil {
		return err
	}

	runnerOpts := []runner.Option{
		runner.WithObserver(runner.NewTransitionLog(logger)),
	}
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		registry := metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
			Logger:   logger,
		})
		lm, err := metrics.NewLifecycleMetrics(registry)
		if err != nil {
			return err
		}
		runnerOpts = append(runnerOpts, runner.WithObserver(lm))
	}

	r, err := runner.New(logger, analyzer, runnerOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	lcs, err := r.Submit(ctx, push, interpret.FromKeys(opts.elements...))
	if err != nil {
		return err
	}
	if len(lcs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No goals planned.")
		return nil
	}

	done, err := drive(ctx, r, ids(lcs), opts.tick)
	if err != nil {
		return err
	}
	printLifecycles(cmd, done)

	var errs []error
	for _, lc := range done {
		if !lc.Succeeded() {
			errs = append(errs, fmt.Errorf("%s: %s", lc.Plan, lc.Outcome()))
		}
	}
	return errors.Join(errs...)
}

func ids(lcs []*lifecycle.Lifecycle) []string {
	out := make([]string, 0, len(lcs))
	for _, lc := range lcs {
		out = append(out, lc.ID)
	}
	return out
}

// drive ticks the runner until every lifecycle in ids has finished.
func drive(ctx context.Context, r *runner.Runner, ids []string, every time.Duration) ([]*lifecycle.Lifecycle, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lifecycles did not finish: %w", ctx.Err())
		case <-timer.C:
		}

		if err := r.Tick(ctx); err != nil {
			return nil, err
		}

		lcs := make([]*lifecycle.Lifecycle, 0, len(ids))
		active := false
		for _, id := range ids {
			lc, err := r.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			active = active || lc.Active()
			lcs = append(lcs, lc)
		}
		if !active {
			return lcs, nil
		}
		timer.Reset(every)
	}
}

func printLifecycles(cmd *cobra.Command, lcs []*lifecycle.Lifecycle) {
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	for _, lc := range lcs {
		fmt.Fprintf(out, "LIFECYCLE %s (%s): %s\n", lc.ID, lc.Plan, lc.Outcome())
		fmt.Fprintln(out, "GOAL\tSTATE\tDESCRIPTION")
		for _, g := range lc.Goals {
			desc := g.Description
			if g.Error != "" {
				desc = g.Error
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", g.UniqueName, g.State, desc)
		}
		fmt.Fprintln(out)
	}
	out.Flush()
}
