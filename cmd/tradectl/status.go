package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show equity, risk metrics and open positions",
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
			st, err := a.Ledger.State(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			stats, err := a.Repo.GetTradeStats(cmd.Context(), p.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Portfolio %s (id %d, %s)\n", p.Name, p.ID, p.ExecutionMode)
			fmt.Fprintf(out, "  Equity:     %.2f (start %.2f, peak %.2f)\n", p.CurrentEquity, p.StartingCapital, p.PeakEquity)
			fmt.Fprintf(out, "  Unrealized: %.2f\n", st.UnrealizedPnL)
			fmt.Fprintf(out, "  Exposure:   %.2f%% (limit %.2f%%)\n", st.ExposurePct, p.MaxTotalExposurePct)
			fmt.Fprintf(out, "  Drawdown:   %.2f%% (limit %.2f%%)\n", st.DrawdownPct, p.MaxDrawdownPct)
			fmt.Fprintf(out, "  Daily loss: %.2f%% (limit %.2f%%)\n", st.DailyLossPct, p.MaxDailyLossPct)
			fmt.Fprintf(out, "  Breaker:    %s\n", breakerLabel(p.CircuitBreakerActive))
			fmt.Fprintf(out, "  Trades:     %d closed, %d won, realized %.2f\n\n", stats.Closed, stats.Winners, stats.RealizedPnL)

			if len(st.Positions) == 0 {
				fmt.Fprintln(out, "No open positions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tQTY\tENTRY\tPRICE\tSL\tTP\tPNL")
			for _, pos := range st.Positions {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%g\t%.4f\t%.4f\t%.4f\t%.4f\t%.2f\n",
					pos.ID, pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.CurrentPrice,
					pos.StopLoss, pos.TakeProfit, pos.UnrealizedPnL)
			}
			return tw.Flush()
		},
	}
}
