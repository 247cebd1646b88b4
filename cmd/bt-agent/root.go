package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	jsonLogs   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bt-agent",
		Short:         "Run behavior trees whose action nodes dispatch goals to action servers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $AGENT_CONFIG_PATH or /etc/bt-agent/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "log as JSON instead of console text")

	root.AddCommand(newRunCmd(opts), newPortsCmd(), newHistoryCmd(opts))
	return root
}
