package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type validateOpts struct {
	*rootOpts
}

func newValidate(parent *rootOpts) *validateOpts {
	return &validateOpts{rootOpts: parent}
}

func (opts *validateOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the delivery config and the goal sets built from it",
		RunE:  opts.RunE,
	}
}

func (opts *validateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	// Building the analyzer validates every plan.
	if _, err := newAnalyzer(cfg, logger, dryRunTarget{out: cmd.OutOrStdout()}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration validation successful: workspace %s\n", cfg.WorkspaceID)
	return nil
}
