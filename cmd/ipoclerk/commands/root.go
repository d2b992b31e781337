package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ipoclerk/lib/notify"
	"ipoclerk/lib/telemetry"
)

type Config struct {
	// BaseUrl is the portal origin, e.g. "https://meroshare.cdsc.com.np".
	BaseUrl string `json:"base_url"`
	// AccountsFile points at the accounts json5 file.
	AccountsFile string `json:"accounts_file"`
	// LedgerDb is the sqlite file holding outcome snapshots.
	LedgerDb string `json:"ledger_db"`
	// SnapshotDir receives page snapshots taken on failures.
	SnapshotDir string `json:"snapshot_dir"`
	Delay       struct {
		MinSeconds int `json:"min_seconds"`
		MaxSeconds int `json:"max_seconds"`
	} `json:"delay"`
	Smtp notify.SmtpConfig `json:"smtp"`
}

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "ipoclerk",
	Short: "ipoclerk applies to share offerings and reconciles their outcomes for a list of accounts.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		tel, err := telemetry.SetupFromEnv(cmd.Context(), "ipoclerk")
		if err == nil {
			telemetry.InstrumentPerfStats(cmd.Context())
			cobra.OnFinalize(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				defer cancel()
				tel.Shutdown(ctx)
			})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "Path to the runtime config file.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging/instrumentation.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
