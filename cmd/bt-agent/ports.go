package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"example.com/bt-action-bridge/internal/agent"
	"example.com/bt-action-bridge/internal/agent/behavior"
)

func newPortsCmd() *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Print the port declarations of every node type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Declarations do not depend on the transport.
			nodes, err := agent.RegisterNodes(agent.Config{Transport: agent.TransportLoopback, SimAxes: 1}, nil, nil, nil)
			if err != nil {
				return err
			}
			defer nodes.Close()

			var out interface{} = nodes.Factory.Manifest()
			if typeName != "" {
				ports, err := nodes.Factory.ProvidedPorts(typeName)
				if err != nil {
					return err
				}
				out = behavior.NodeType{Type: typeName, Ports: ports}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "only this node type")
	return cmd
}
