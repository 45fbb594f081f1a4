package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/serialmon/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			if verbose {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.Module, info.Version)
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include go version and vcs revision")
	return cmd
}
