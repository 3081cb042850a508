package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate and inspect plot plans",
	Long: `Generate plot plans from the mining settings and inspect plan files.

Examples:
  phoenixd plan generate --output plan.yaml
  phoenixd plan validate plan.yaml
  phoenixd plan show plan.yaml
  phoenixd plan hash plan.yaml`,
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a plan file against the plan schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanValidate,
}

var planShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print the items of a plan file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planHashCmd = &cobra.Command{
	Use:   "hash [file]",
	Short: "Print the settings fingerprint and check a plan for staleness",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlanHash,
}

var planGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a plan for the configured drives",
	Long: `Scan every configured drive and generate a plan that resumes interrupted
outputs and fills the remaining allocation.

The output format follows the file extension (.json, .yaml or .yml).`,
	RunE: runPlanGenerate,
}

var (
	planShowJSON     bool
	planGenerateOut  string
	planGenerateMax  uint64
	planGenerateJSON bool
)

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planValidateCmd, planShowCmd, planHashCmd, planGenerateCmd)

	planShowCmd.Flags().BoolVar(&planShowJSON, "json", false, "Print the plan as JSON")

	planGenerateCmd.Flags().StringVarP(&planGenerateOut, "output", "o", "", "Write the plan to this file (default stdout as JSON)")
	planGenerateCmd.Flags().Uint64Var(&planGenerateMax, "max-file-units", plan.DefaultMaxFileUnits, "Largest output a single plot item may produce")
	planGenerateCmd.Flags().BoolVar(&planGenerateJSON, "json", false, "Print the generated plan to stdout even with --output")
}

func runPlanValidate(_ *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		_, _ = failColor.Fprintf(stdout, "Plan is invalid (%s)\n", args[0])
		if verrs, ok := asValidationErrors(err); ok {
			for _, v := range verrs {
				_, _ = failColor.Fprintf(stdout, "  - %s\n", v.Error())
			}
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid plan", err)
	}
	_, _ = okColor.Fprintf(stdout, "Plan is valid (%s): %d items, %s units\n",
		args[0], p.Len(), humanize.Comma(int64(p.TotalUnits())))
	return nil
}

func runPlanShow(_ *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid plan", err)
	}
	if planShowJSON {
		return printJSON(stdout, p)
	}

	hash, _ := currentFingerprint()
	generated := time.Unix(p.GeneratedAt, 0)
	_, _ = fmt.Fprintf(stdout, "Version:     %d\n", p.Version)
	_, _ = fmt.Fprintf(stdout, "Generated:   %s (%s)\n", generated.UTC().Format(time.RFC3339), humanize.Time(generated))
	_, _ = fmt.Fprintf(stdout, "Config hash: %s\n", p.ConfigHash)
	if hash != "" && p.IsStale(hash) {
		_, _ = warnColor.Fprintln(stdout, "Stale:       yes (settings changed since generation)")
	}
	_, _ = fmt.Fprintln(stdout)

	tbl := newTable(stdout)
	tbl.AppendHeader(table.Row{"#", "Type", "Path", "Units", "Batch"})
	for i, it := range p.Items {
		batch := ""
		if id, ok := it.Batch(); ok {
			batch = fmt.Sprintf("%d", id)
		}
		units := ""
		if u := it.WorkUnits(); u > 0 {
			units = humanize.Comma(int64(u))
		}
		tbl.AppendRow(table.Row{i, it.Type, it.Path, units, batch})
	}
	tbl.AppendFooter(table.Row{"", fmt.Sprintf("Total: %d items", p.Len()), "", humanize.Comma(int64(p.TotalUnits())), ""})
	tbl.Render()
	return nil
}

func runPlanHash(_ *cobra.Command, args []string) error {
	hash, err := currentFingerprint()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid mining settings", err)
	}
	_, _ = fmt.Fprintln(stdout, hash)
	if len(args) == 0 {
		return nil
	}

	p, err := plan.Load(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid plan", err)
	}
	if p.IsStale(hash) {
		_, _ = warnColor.Fprintf(stdout, "%s is stale (plan hash %s)\n", args[0], p.ConfigHash)
		return nil
	}
	_, _ = okColor.Fprintf(stdout, "%s matches current settings\n", args[0])
	return nil
}

func runPlanGenerate(_ *cobra.Command, _ []string) error {
	m := config.GetConfig().Mining
	if len(m.Drives) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No drives configured", fmt.Errorf("mining.drives is empty"))
	}

	inventory, err := scanInventory(m.Drives)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to scan drives", err)
	}

	p, err := plan.Generate(m.PlanSettings(), inventory, plan.GenerateOptions{MaxFileUnits: planGenerateMax})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to generate plan", err)
	}

	observability.CLILogger.Info("Generated plan",
		zap.Int("items", p.Len()),
		zap.Uint64("units", p.TotalUnits()),
		zap.String("config_hash", p.ConfigHash))

	if planGenerateOut == "" || planGenerateJSON {
		if err := printJSON(stdout, p); err != nil {
			return err
		}
	}
	if planGenerateOut == "" {
		return nil
	}
	data, err := plan.Encode(p, planGenerateOut)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to encode plan", err)
	}
	if err := os.WriteFile(planGenerateOut, data, 0o644); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
	}
	_, _ = okColor.Fprintf(stdout, "Wrote %d items to %s\n", p.Len(), planGenerateOut)
	return nil
}

// scanInventory reads what each configured drive already holds.
func scanInventory(ds []config.DriveConfig) (map[string]plan.DriveInventory, error) {
	inv := make(map[string]plan.DriveInventory, len(ds))
	for _, d := range ds {
		key := plan.DriveKey(d.Path)
		scan, err := drives.ScanDir(key)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		inv[key] = plan.DriveInventory{
			CompleteUnits: scan.CompleteUnits(),
			Incomplete:    scan.IncompleteUnits(),
		}
		observability.CLILogger.Debug("Scanned drive",
			zap.String("path", key),
			zap.Int("complete", scan.CompleteCount),
			zap.Int("incomplete", scan.IncompleteCount))
	}
	return inv, nil
}

func asValidationErrors(err error) (plan.ValidationErrors, bool) {
	var verrs plan.ValidationErrors
	ok := errors.As(err, &verrs)
	return verrs, ok
}
