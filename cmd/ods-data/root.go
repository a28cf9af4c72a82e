package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "ods-data",
		Short:         "Load, index and query organisation reference data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs (default: PROMETHEUS_METRICS_ADDR)")

	cmd.AddCommand(newMigrateCmd(&opts))
	cmd.AddCommand(newImportCmd(&opts))
	cmd.AddCommand(newReindexCmd(&opts))
	cmd.AddCommand(newFetchCmd(&opts))
	cmd.AddCommand(newClosureCmd(&opts))
	cmd.AddCommand(newSearchCmd(&opts))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
