package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/bt-action-bridge/internal/agent"
	"example.com/bt-action-bridge/internal/db"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		dbPath string
		node   string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded goal dispatches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				path := opts.configPath
				if path == "" {
					path = agent.ConfigPath()
				}
				cfg, err := agent.LoadConfig(path)
				if err != nil {
					return fmt.Errorf("no --db given: %w", err)
				}
				dbPath = cfg.DBPath
			}
			dbConn, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer dbConn.Close()

			list, err := dbConn.ListDispatches(cmd.Context(), node, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNODE\tATTEMPT\tSTATE\tSTATUS\tRESULT\tERROR\tGOAL ID\tUPDATED")
			for _, d := range list {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Node, d.Attempt, d.State, dash(d.Status), dash(d.ResultCode),
					dash(d.ErrorCode), dash(d.GoalID), d.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "dispatch database (default: db_path from config)")
	cmd.Flags().StringVar(&node, "node", "", "only dispatches of this node")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows, 0 for all")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
