package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBreakerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset the circuit breaker",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Return a tripped breaker to READY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := opts.resolve(cmd, a)
			if err != nil {
				return err
			}
			changed, err := a.Risk.ResetBreaker(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "circuit breaker of %q reset to READY\n", p.Name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "circuit breaker of %q already READY\n", p.Name)
			}
			return nil
		},
	})
	return cmd
}

func newViolationsCmd(opts *rootOptions) *cobra.Command {
	var (
		hours    int
		severity string
	)
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List risk events for the trailing hours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := opts.resolve(cmd, a)
			if err != nil {
				return err
			}
			events, err := a.Risk.Violations(cmd.Context(), p.ID, hours, severity)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No risk events.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tSEVERITY\tRULE\tVALUE\tLIMIT\tMESSAGE")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.EventType, e.Severity, e.RuleType,
					e.CurrentValue, e.RuleLimit, e.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "trailing window in hours")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity: INFO, WARNING or CRITICAL")
	return cmd
}
