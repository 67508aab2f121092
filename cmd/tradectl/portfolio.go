package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/storage"
)

func newPortfolioCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Create and list portfolios",
	}
	cmd.AddCommand(newPortfolioCreateCmd(opts), newPortfolioListCmd(opts))
	return cmd
}

func newPortfolioCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		name    string
		capital float64
		mode    string
		limits  storage.Limits
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a portfolio; unset values come from the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Config
			req := ledger.CreateRequest{
				Name:            name,
				StartingCapital: capital,
				ExecutionMode:   strings.ToUpper(mode),
				Limits:          limits,
			}
			if req.Name == "" {
				req.Name = cfg.Portfolio.Name
			}
			if req.StartingCapital == 0 {
				req.StartingCapital = cfg.Portfolio.StartingCapital
			}
			if req.ExecutionMode == "" {
				req.ExecutionMode = cfg.Portfolio.ExecutionMode
			}
			if !cmd.Flags().Changed("max-position") {
				req.Limits.MaxPositionSizePct = cfg.Risk.MaxPositionSizePct
			}
			if !cmd.Flags().Changed("max-exposure") {
				req.Limits.MaxTotalExposurePct = cfg.Risk.MaxTotalExposurePct
			}
			if !cmd.Flags().Changed("max-daily-loss") {
				req.Limits.MaxDailyLossPct = cfg.Risk.MaxDailyLossPct
			}
			if !cmd.Flags().Changed("max-drawdown") {
				req.Limits.MaxDrawdownPct = cfg.Risk.MaxDrawdownPct
			}

			id, err := a.Ledger.CreatePortfolio(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created portfolio %q (id %d) with %.2f in %s mode\n",
				req.Name, id, req.StartingCapital, req.ExecutionMode)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "portfolio name")
	cmd.Flags().Float64Var(&capital, "capital", 0, "starting capital in USD")
	cmd.Flags().StringVar(&mode, "mode", "", "execution mode: instant, realistic or historical")
	cmd.Flags().Float64Var(&limits.MaxPositionSizePct, "max-position", 0, "max position size, % of equity (0 disables)")
	cmd.Flags().Float64Var(&limits.MaxTotalExposurePct, "max-exposure", 0, "max total exposure, % of equity (0 disables)")
	cmd.Flags().Float64Var(&limits.MaxDailyLossPct, "max-daily-loss", 0, "max daily loss, % of starting capital (0 disables)")
	cmd.Flags().Float64Var(&limits.MaxDrawdownPct, "max-drawdown", 0, "max drawdown from peak, % (0 disables)")
	return cmd
}

func newPortfolioListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active portfolios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Ledger.ActivePortfolios(cmd.Context())
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No portfolios.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODE\tEQUITY\tPEAK\tBREAKER")
			for _, p := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\t%s\n",
					p.ID, p.Name, p.ExecutionMode, p.CurrentEquity, p.PeakEquity, breakerLabel(p.CircuitBreakerActive))
			}
			return tw.Flush()
		},
	}
}

func breakerLabel(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "READY"
}
