package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCloseAllCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		reason string
	)
	cmd := &cobra.Command{
		Use:   "close-all",
		Short: "Close every open position at the current market price",
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
			positions, err := a.Ledger.OpenPositions(cmd.Context(), p.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(positions) == 0 {
				fmt.Fprintln(out, "No open positions.")
				return nil
			}

			fmt.Fprintf(out, "Found %d position(s):\n\n", len(positions))
			for _, pos := range positions {
				fmt.Fprintf(out, "  %s %s: %g @ %.4f, last %.4f, P&L %.2f\n",
					pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.CurrentPrice, pos.UnrealizedPnL)
			}
			fmt.Fprintln(out)

			if dryRun {
				fmt.Fprintln(out, "Dry run, nothing closed.")
				return nil
			}

			closed, err := a.Reviewer.CloseAll(cmd.Context(), p.ID, reason)
			for _, c := range closed {
				fmt.Fprintf(out, "  [OK] %s closed @ %.4f, P&L %.2f\n", c.Position.Symbol, c.Position.ExitPrice, c.RealizedPnL)
			}
			fmt.Fprintf(out, "\nDone: %d closed, %d failed\n", len(closed), len(positions)-len(closed))
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show positions without closing")
	cmd.Flags().StringVar(&reason, "reason", "manual close-all", "reason recorded on the closing trades")
	return cmd
}
