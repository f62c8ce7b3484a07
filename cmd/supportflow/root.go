package main

import (
	"github.com/spf13/cobra"

	"supportflow/pkg/config"
	"supportflow/pkg/logx"
	"supportflow/pkg/version"
)

type rootOptions struct {
	configPath string
	traceFile  string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "supportflow",
		Short: "Product support assistant backed by manual search",
		Long: `supportflow answers product questions from a manual corpus. It gathers
details, searches, checks the results, falls back to the product PDF, and
escalates to a human when no sufficient answer can be found.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.debug {
				logx.SetDebugConfig(true)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.traceFile, "trace-file", "", "write OpenTelemetry step spans to this file")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging (see DEBUG_DOMAINS)")

	cmd.AddCommand(
		newChatCmd(opts),
		newProductsCmd(opts),
		newReportCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configPath)
}
