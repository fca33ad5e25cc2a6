package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var debug bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "datatorch-agent",
		Short: "Runs pipelines dispatched by the DataTorch control plane.",
		Long:  "datatorch-agent connects to the DataTorch control plane, runs dispatched pipeline jobs, and reports host telemetry.",
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "agent app directory (default resolved via DATATORCH_AGENT_PATH or the XDG data home)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error log output")

	cmd.AddCommand(newStartCmd(&cfgFile, &debug, &quiet))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
