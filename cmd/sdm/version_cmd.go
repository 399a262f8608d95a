package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosdm/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Output the version of sdm",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return errorWantedNoArgs
			}
			props := buildinfo.Get()
			fmt.Fprintln(cmd.OutOrStdout(), props.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", props.BuildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", props.GitCommit)
			return nil
		},
	}
}
