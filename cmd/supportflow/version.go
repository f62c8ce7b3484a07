package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"supportflow/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "supportflow %s\n", version.String())
		},
	}
}
