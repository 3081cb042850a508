package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "Inspect plot drives",
}

var drivesScanCmd = &cobra.Command{
	Use:   "scan [path...]",
	Short: "Inventory plot files on drives",
	Long: `Inventory finished and interrupted plot files in each directory.

Without arguments the configured mining drives are scanned.

Examples:
  phoenixd drives scan
  phoenixd drives scan /mnt/plots1 /mnt/plots2 --json`,
	RunE: runDrivesScan,
}

var drivesScanJSON bool

func init() {
	rootCmd.AddCommand(drivesCmd)
	drivesCmd.AddCommand(drivesScanCmd)

	drivesScanCmd.Flags().BoolVar(&drivesScanJSON, "json", false, "Print scans as JSON")
}

func runDrivesScan(_ *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		for _, d := range config.GetConfig().Mining.Drives {
			paths = append(paths, d.Path)
		}
	}
	if len(paths) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No drives to scan", fmt.Errorf("pass a path or configure mining.drives"))
	}

	scans := make([]drives.Scan, 0, len(paths))
	for _, p := range paths {
		s, err := drives.ScanDir(plan.DriveKey(p))
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to scan drive", err)
		}
		scans = append(scans, s)
	}

	if drivesScanJSON {
		return printJSON(stdout, scans)
	}

	tbl := newTable(stdout)
	tbl.AppendHeader(table.Row{"Path", "Complete", "Size", "Units", "Incomplete", "Size", "Units"})
	for _, s := range scans {
		var incomplete uint64
		for _, u := range s.IncompleteUnits() {
			incomplete += u
		}
		tbl.AppendRow(table.Row{
			s.Path,
			s.CompleteCount,
			humanize.IBytes(uint64(s.CompleteBytes)),
			humanize.Comma(int64(s.CompleteUnits())),
			s.IncompleteCount,
			humanize.IBytes(uint64(s.IncompleteBytes)),
			humanize.Comma(int64(incomplete)),
		})
	}
	tbl.Render()
	return nil
}
