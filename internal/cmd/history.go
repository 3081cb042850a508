package cmd

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/pkg/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the completion journal",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the most recent completions",
	Long: `Show the most recent completed plan items, newest first.

The journal is shared with the daemon. Stop the daemon first: the journal
file is locked while it runs.`,
	RunE: runHistoryList,
}

var (
	historyLimit int
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
}

func runHistoryList(_ *cobra.Command, _ []string) error {
	cfg := config.GetConfig()
	store, err := history.Open(cfg.Plotter.HistoryPath, cfg.Plotter.HistoryLimit, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open history", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(historyLimit)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read history", err)
	}
	sum := history.Summarize(records)

	if historyJSON {
		return printJSON(stdout, struct {
			Records []history.Record `json:"records"`
			Summary history.Summary  `json:"summary"`
		}{records, sum})
	}

	tbl := newTable(stdout)
	tbl.AppendHeader(table.Row{"Seq", "Completed", "Type", "Path", "Outcome", "Units", "Duration"})
	for _, r := range records {
		outcome := string(r.Outcome)
		switch r.Outcome {
		case history.OutcomeSuccess:
			outcome = okColor.Sprint(outcome)
		case history.OutcomeAborted:
			outcome = warnColor.Sprint(outcome)
		default:
			outcome = failColor.Sprint(outcome)
		}
		tbl.AppendRow(table.Row{
			r.Seq,
			humanize.Time(r.CompletedAt),
			r.Type,
			r.Path,
			outcome,
			humanize.Comma(int64(r.UnitsProduced)),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
		})
	}
	tbl.AppendFooter(table.Row{"", "", "", "", "",
		humanize.Comma(int64(sum.Units)),
		""})
	tbl.Render()

	_, _ = infoColor.Fprintf(stdout, "%d items: %d succeeded, %d failed, %d aborted\n",
		sum.Items, sum.Succeeded, sum.Failed, sum.Aborted)
	return nil
}
