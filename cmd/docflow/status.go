package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/ui"
)

var statusHistory int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and recent executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(ui.RenderCategory("servers"))
		health := a.conns.HealthCheck(cmd.Context())
		keys := make([]string, 0, len(health))
		for k := range health {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := health[key]; err != nil {
				fmt.Printf("  %s %-16s %s\n", ui.RenderFail(ui.IconFail), key, ui.RenderMuted(err.Error()))
			} else {
				fmt.Printf("  %s %-16s\n", ui.RenderPass(ui.IconPass), key)
			}
		}

		for _, stats := range a.conns.Metrics().Snapshot() {
			fmt.Printf("  %s queries=%d errors=%d avg=%s\n",
				ui.RenderMuted(stats.ServerKey), stats.Queries, stats.Errors, stats.AvgLatency)
		}

		fmt.Println(ui.RenderCategory("executions"))
		recs, err := a.execs.ListExecutions(cmd.Context(), statusHistory)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println(ui.RenderMuted("  none recorded"))
			return nil
		}
		for _, rec := range recs {
			fmt.Println("  " + ui.RenderExecutionRow(rec))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 10, "number of past executions to show")
}
