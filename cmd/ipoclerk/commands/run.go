package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ipoclerk/lib/accounts"
	"ipoclerk/lib/cliutil"
	"ipoclerk/lib/configutil"
	"ipoclerk/lib/ledger"
	"ipoclerk/lib/notify"
	"ipoclerk/lib/reconcile"
	"ipoclerk/lib/runner"
	"ipoclerk/lib/webform"
)

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(reconcileCmd)
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit the configured application for every account, in order.",
	Run: func(cmd *cobra.Command, args []string) {
		runAll(cmd.Context(), runner.ModeApply)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Scrape application outcomes for every account and merge them into the ledger.",
	Run: func(cmd *cobra.Command, args []string) {
		runAll(cmd.Context(), runner.ModeReconcile)
	},
}

// runAll wires the whole stack together and exits with the aggregate
// status. Any fault before the first account is attempted exits fatal.
func runAll(ctx context.Context, mode runner.Mode) {
	cfg, err := configutil.ReadConfig[Config](configPath)
	if err != nil {
		cliutil.Fatal("read config", err)
	}

	accts, err := accounts.Load(cfg.AccountsFile)
	if err != nil {
		cliutil.Fatal("load accounts", err)
	}

	ledgerPath := cfg.LedgerDb
	if ledgerPath == "" {
		ledgerPath = "ledger.db"
	}
	store, err := ledger.Open(ledgerPath)
	if err != nil {
		cliutil.Fatal("open ledger", err)
	}

	r := runner.New(runner.Options{
		NewDriver: func(ctx context.Context) (webform.Driver, error) {
			return webform.NewSession(webform.SessionOptions{
				BaseUrl:     cfg.BaseUrl,
				SnapshotDir: cfg.SnapshotDir,
			})
		},
		Engine:   reconcile.NewEngine(store),
		Notifier: notify.NewMailer(cfg.Smtp),
		Delay: runner.DelayBounds{
			Min: time.Duration(cfg.Delay.MinSeconds) * time.Second,
			Max: time.Duration(cfg.Delay.MaxSeconds) * time.Second,
		},
	})

	results := r.RunAll(ctx, accts, mode)
	runner.PrintSummary(results)
	os.Exit(runner.ExitStatus(results))
}
