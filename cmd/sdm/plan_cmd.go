package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosdm/interpret"
)

type planOpts struct {
	*rootOpts
	elements []string
}

func newPlan(parent *rootOpts) *planOpts {
	return &planOpts{rootOpts: parent}
}

func (opts *planOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the goals a push with the given elements would get",
		Example: makeExample(
			"sdm plan -c delivery.yaml --elements k8s",
			"sdm plan -c delivery.yaml --elements docker,k8s",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringSliceVarP(&opts.elements, "elements", "e", nil, "Detected stack elements, e.g. k8s")
	return cmd
}

func (opts *planOpts) RunE(cmd *cobra.Command, args []string) error {
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
	analyzer, err := newAnalyzer(cfg, logger, dryRunTarget{out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}

	plans := analyzer.Plans(interpret.FromKeys(opts.elements...))
	if len(plans) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No goals planned.")
		return nil
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	for _, plan := range plans {
		fmt.Fprintf(out, "PLAN %s\n", plan.Name())
		fmt.Fprintln(out, "GOAL\tAFTER\tPRECONDITION")
		for _, def := range plan.Goals() {
			pre := "-"
			if def.Precondition != nil {
				pre = fmt.Sprintf("%d retries every %s", def.Precondition.Retries, def.Precondition.Interval)
			}
			after := strings.Join(plan.After(def.UniqueName), ", ")
			if after == "" {
				after = "-"
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", def.UniqueName, after, pre)
		}
		fmt.Fprintln(out)
	}
	return out.Flush()
}

func makeExample(examples ...string) string {
	var buf strings.Builder
	for _, ex := range examples {
		buf.WriteString("  " + ex + "\n")
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
