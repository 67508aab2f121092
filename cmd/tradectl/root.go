package main

import (
	"github.com/spf13/cobra"

	"github.com/camuig/momentum-trader/internal/app"
	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/storage"
)

type rootOptions struct {
	configPath string
	dbPath     string
	portfolio  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tradectl",
		Short: "Operate the momentum trader's paper portfolios",
		Long: `tradectl inspects and operates the portfolios the trading daemon manages.

Examples:
  tradectl portfolio create --name paper --capital 50000 --mode realistic
  tradectl status
  tradectl breaker reset
  tradectl close-all --dry-run
  tradectl scan --symbol ETHUSDT`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to SQLite database (overrides storage.path)")
	cmd.PersistentFlags().StringVarP(&opts.portfolio, "portfolio", "p", "", "portfolio name (default from config)")

	cmd.AddCommand(
		newPortfolioCmd(opts),
		newStatusCmd(opts),
		newBreakerCmd(opts),
		newCloseAllCmd(opts),
		newViolationsCmd(opts),
		newScanCmd(opts),
	)
	return cmd
}

// open loads the config and wires the app. The caller closes it.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Storage.Path = o.dbPath
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
	return app.New(cfg, log)
}

func (o *rootOptions) resolve(cmd *cobra.Command, a *app.App) (*storage.Portfolio, error) {
	return a.Portfolio(cmd.Context(), o.portfolio)
}
