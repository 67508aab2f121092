package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	var symbols []string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the trading pipeline once for the given symbols",
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
			if len(symbols) == 0 {
				symbols = a.Config.Trading.Symbols
			}

			out := cmd.OutOrStdout()
			for _, sym := range symbols {
				res := a.Pipeline.Run(cmd.Context(), p.ID, strings.ToUpper(sym))
				fmt.Fprintf(out, "%-10s %-9s stage=%-10s confidence=%-3d %s\n",
					res.Symbol, res.Status, res.Stage, res.Confidence, res.Elapsed.Round(time.Millisecond))
				for _, r := range res.Reasons {
					fmt.Fprintf(out, "    - %s\n", r)
				}
				if res.Err != nil {
					fmt.Fprintf(out, "    error: %v\n", res.Err)
				}
				if res.Position != nil {
					fmt.Fprintf(out, "    opened %s %g @ %.4f (SL %.4f, TP %.4f)\n",
						res.Position.Side, res.Position.Quantity, res.Position.EntryPrice,
						res.Position.StopLoss, res.Position.TakeProfit)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&symbols, "symbol", "s", nil, "symbols to scan (default from config)")
	return cmd
}
