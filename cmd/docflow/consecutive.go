package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/docflowhq/docflow/internal/ui"
)

var (
	resetValue    int64
	resetSegment  string
	resetForce    bool
	metricsWindow time.Duration
)

var consecutiveCmd = &cobra.Command{
	Use:     "consecutive",
	Aliases: []string{"counter"},
	Short:   "Inspect and manage centralized consecutive counters",
}

var consecutiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		counters, err := a.counters.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(counters) == 0 {
			fmt.Println(ui.RenderMuted("no counters"))
			return nil
		}
		for _, c := range counters {
			state := ui.RenderPass("active")
			if !c.Active {
				state = ui.RenderMuted("inactive")
			}
			fmt.Printf("%-36s %-20s current=%d %s\n", c.ID, c.Name, c.CurrentValue, state)
		}
		return nil
	},
}

var consecutiveShowCmd = &cobra.Command{
	Use:   "show <counter-id>",
	Short: "Show one counter with reservations and windowed metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.counters.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderCategory(c.Name))
		fmt.Printf("  id:        %s\n", c.ID)
		fmt.Printf("  format:    %s\n", c.Format)
		fmt.Printf("  current:   %d (start %d, increment %d)\n", c.CurrentValue, c.StartValue, c.Increment)
		if c.Segments.Enabled {
			for seg, v := range c.Segments.Values {
				fmt.Printf("  segment:   %s = %d\n", seg, v)
			}
		}
		for _, r := range c.Reservations {
			fmt.Printf("  reservation %s %s %d value(s), expires %s\n",
				r.ReservationID, r.Status, len(r.Values), r.ExpiresAt.Format(time.RFC3339))
		}

		m, err := a.counters.Metrics(cmd.Context(), args[0], metricsWindow)
		if err != nil {
			return err
		}
		fmt.Println(ui.RenderCategory(fmt.Sprintf("last %s", metricsWindow)))
		fmt.Printf("  increments: %d, resets: %d\n", m.Increments, m.Resets)
		fmt.Printf("  reservations: %d active, %d expired, %d committed\n",
			m.ActiveReservations, m.ExpiredReservations, m.CommittedReservations)
		if m.Increments > 0 {
			fmt.Printf("  value range: %d..%d\n", m.MinValue, m.MaxValue)
		}
		return nil
	},
}

var consecutiveResetCmd = &cobra.Command{
	Use:   "reset <counter-id> --value <n>",
	Short: "Force a counter to an explicit value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// Resetting backwards can hand out duplicate document numbers, so it
		// always asks unless forced.
		if !resetForce {
			if !ui.IsInteractive() {
				return fmt.Errorf("refusing to reset without --force in non-interactive mode")
			}
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Reset counter %s to %d?", args[0], resetValue)).
					Description("Values already handed out are not reclaimed; resetting backwards risks duplicates.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println(ui.RenderMuted("aborted"))
				return nil
			}
		}

		if err := a.counters.Reset(cmd.Context(), args[0], resetValue, resetSegment); err != nil {
			return err
		}
		fmt.Printf("%s counter %s reset to %d\n", ui.RenderPass(ui.IconPass), args[0], resetValue)
		return nil
	},
}

func init() {
	consecutiveShowCmd.Flags().DurationVar(&metricsWindow, "window", 24*time.Hour, "metrics window")
	consecutiveResetCmd.Flags().Int64Var(&resetValue, "value", 0, "value to reset to")
	consecutiveResetCmd.Flags().StringVar(&resetSegment, "segment", "", "segment to reset (segmented counters)")
	consecutiveResetCmd.Flags().BoolVar(&resetForce, "force", false, "skip confirmation")
	_ = consecutiveResetCmd.MarkFlagRequired("value")
	consecutiveCmd.AddCommand(consecutiveListCmd, consecutiveShowCmd, consecutiveResetCmd)
}
