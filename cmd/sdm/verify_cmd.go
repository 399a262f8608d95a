package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosdm/poller"
	"github.com/nomis52/gosdm/readiness"
)

type verifyOpts struct {
	*rootOpts
	host string
	url  string
}

func newVerify(parent *rootOpts) *verifyOpts {
	return &verifyOpts{rootOpts: parent}
}

func (opts *verifyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Wait until a deployed application answers",
		Example: makeExample(
			"sdm verify -c delivery.yaml --host web-main-t123.g.example.com",
			"sdm verify -c delivery.yaml --url https://web.example.com/health",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "Host to check through the configured url_template")
	cmd.Flags().StringVar(&opts.url, "url", "", "URL to check directly")
	return cmd
}

func (opts *verifyOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if (opts.host == "") == (opts.url == "") {
		return newUsageError("please supply exactly one of --host or --url")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	url := opts.url
	if url == "" {
		url = readiness.URLFor(cfg.Verify.URLTemplate, opts.host)
	}
	client := newReadiness(cfg, logger)

	check := func(ctx context.Context) (bool, error) {
		if _, err := client.Exchange(ctx, url); err != nil {
			logger.Debug("not ready", "url", url, "error", err)
			return false, nil
		}
		return true, nil
	}
	budget := poller.Budget{Retries: cfg.Verify.Retries, Interval: cfg.Verify.Interval}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying %s (%d checks every %s)\n", url, budget.Attempts(), budget.Interval)
	report := poller.Poll(cmd.Context(), check, budget, poller.WithProgress(func(r poller.Report) {
		fmt.Fprintf(out, "  not ready after %d checks, %s left\n", r.Checks, r.Remaining.Round(time.Second))
	}))

	switch report.Outcome {
	case poller.Ready:
		fmt.Fprintf(out, "%s is ready after %d checks\n", url, report.Checks)
		return nil
	case poller.CheckFailed:
		return fmt.Errorf("verifying %s: %w", url, report.Err)
	default:
		return fmt.Errorf("%s not ready after %d checks", url, report.Checks)
	}
}
