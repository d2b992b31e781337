package runner

import (
	"github.com/jedib0t/go-pretty/v6/table"

	"ipoclerk/lib/cliutil"
	"ipoclerk/lib/workflow"
)

// ExitStatus maps the run's aggregate outcome to a process exit code:
// 0 when every account succeeded, 1 on a mix of success and failure,
// 2 when every attempted account failed (or nothing was attempted).
func ExitStatus(results []workflow.Result) int {
	if len(results) == 0 {
		return 2
	}
	succeeded := 0
	for _, res := range results {
		if res.OK {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		return 0
	case succeeded == 0:
		return 2
	default:
		return 1
	}
}

// PrintSummary renders the per-account outcome table on stdout.
func PrintSummary(results []workflow.Result) {
	t := cliutil.NewTable()
	t.AppendHeader(table.Row{"account", "outcome", "reference", "message"})
	for _, res := range results {
		outcome := "ok"
		if !res.OK {
			outcome = "FAILED"
		}
		t.AppendRow(table.Row{res.Account, outcome, res.Ref, res.Message})
	}
	t.Render()
}
