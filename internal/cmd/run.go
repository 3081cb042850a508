package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/pkg/output"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a plot plan headless",
	Long: `Execute a plot plan to completion without starting the HTTP API.

Each finished item is written as a JSONL completion record, followed by a
final summary. The first interrupt requests a soft stop at the next batch
boundary; a second interrupt aborts the engine.

Examples:
  phoenixd run --plan plan.yaml
  phoenixd run --plan plan.yaml --output run.jsonl --history
  phoenixd run --plan plan.yaml --require-fresh --quiet`,
	RunE: runRun,
}

var (
	runPlanPath     string
	runOutput       string
	runQuiet        bool
	runHistory      bool
	runRequireFresh bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPlanPath, "plan", "p", "", "Path to plan file (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output destination (default stdout)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress progress records")
	runCmd.Flags().BoolVar(&runHistory, "history", false, "Also append completions to the history journal")
	runCmd.Flags().BoolVar(&runRequireFresh, "require-fresh", false, "Refuse plans generated from other settings")

	_ = runCmd.MarkFlagRequired("plan")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger := observability.CLILogger
	cfg := *config.GetConfig()

	p, err := plan.Load(runPlanPath)
	if err != nil {
		logger.Error("Failed to load plan", zap.String("path", runPlanPath), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid plan", err)
	}
	hash, err := currentFingerprint()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid mining settings", err)
	}
	stale := p.IsStale(hash)
	if stale {
		if runRequireFresh {
			return exitError(foundry.ExitInvalidArgument, "Plan is stale",
				fmt.Errorf("plan hash %q does not match settings hash %q", p.ConfigHash, hash))
		}
		logger.Warn("Plan was generated from different settings",
			zap.String("plan_hash", p.ConfigHash),
			zap.String("settings_hash", hash))
	}

	runID := uuid.NewString()
	writer, closeWriter, err := createRunWriter(runOutput, runID)
	if err != nil {
		logger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer closeWriter()

	onWriteErr := func(err error) { logger.Warn("Failed to write record", zap.Error(err)) }
	tally := &runTally{}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()

	stack, cleanup, err := buildPlotterStack(dispatchCtx, &cfg, logger, stackOptions{
		autoAdvance: true,
		history:     runHistory,
		extraSinks:  []plotter.Sink{output.Sink(writer, onWriteErr), tally},
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to initialize plotter", err)
	}
	defer cleanup()

	finished := make(chan plotter.Finish, 1)
	stack.controller.OnFinish(func(f plotter.Finish) {
		select {
		case finished <- f:
		default:
		}
	})

	stack.runtime.SetPlan(p)
	ctx := cmd.Context()
	if err := writer.WritePlan(ctx, &output.PlanRecord{
		Version:    p.Version,
		ConfigHash: p.ConfigHash,
		Stale:      stale,
		Items:      p.Len(),
		TotalUnits: p.TotalUnits(),
		StartIndex: stack.runtime.CurrentIndex(),
	}); err != nil {
		onWriteErr(err)
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	logger.Info("Starting plan",
		zap.String("run_id", runID),
		zap.String("plan", runPlanPath),
		zap.Int("items", p.Len()),
		zap.String("engine", engineName(&cfg)))

	start := time.Now()
	if p.Len() == 0 {
		writeRunSummary(ctx, writer, tally, plotter.Finish{Outcome: plan.OutcomeComplete}, start, onWriteErr)
		return nil
	}

	if _, _, err := stack.controller.Start(ctx); err != nil {
		writeRunError(ctx, writer, err, onWriteErr)
		writeRunSummary(ctx, writer, tally, plotter.Finish{
			Outcome: plan.OutcomeStopped,
			Index:   stack.runtime.CurrentIndex(),
			Err:     err,
		}, start, onWriteErr)
		return exitError(foundry.ExitInvalidArgument, "Plan could not start", err)
	}

	var progressC <-chan time.Time
	if !runQuiet {
		interval := cfg.Plotter.ProgressInterval
		if interval <= 0 {
			interval = time.Second
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		progressC = t.C
	}

	interrupted := false
	for {
		select {
		case sig := <-signals:
			if !interrupted {
				interrupted = true
				logger.Warn("Soft stop requested, finishing current batch", zap.String("signal", sig.String()))
				stack.runtime.RequestSoftStop()
				continue
			}
			logger.Warn("Hard stop requested, aborting engine", zap.String("signal", sig.String()))
			stack.runtime.RequestHardStop()
		case <-progressC:
			st := stack.runtime.State()
			if !st.Running {
				continue
			}
			if err := writer.WriteProgress(ctx, &output.ProgressRecord{
				Phase:        output.PhasePlotting,
				Index:        st.CurrentIndex,
				HashingUnits: st.Progress.HashingUnits,
				WritingUnits: st.Progress.WritingUnits,
				TotalUnits:   st.Progress.TotalUnits,
				Percent:      st.Progress.Percent,
				SpeedMiBs:    st.Progress.SpeedMiBs,
				Path:         st.Status.FilePath,
			}); err != nil {
				onWriteErr(err)
			}
		case f := <-finished:
			if f.Err != nil {
				writeRunError(ctx, writer, f.Err, onWriteErr)
			}
			sum := writeRunSummary(ctx, writer, tally, f, start, onWriteErr)
			logger.Info("Plan finished",
				zap.String("run_id", runID),
				zap.String("outcome", sum.Outcome),
				zap.Int("succeeded", sum.Succeeded),
				zap.Int("failed", sum.Failed),
				zap.String("units", humanize.Comma(int64(sum.Units))),
				zap.String("duration", sum.DurationHuman))

			switch {
			case interrupted:
				return exitError(foundry.ExitSignalInt, "Plan interrupted", f.Err)
			case f.Err != nil:
				return exitError(foundry.ExitExternalServiceUnavailable, "Plan halted", f.Err)
			}
			return nil
		}
	}
}

// runTally counts completions for the run summary.
type runTally struct {
	mu        sync.Mutex
	items     int
	succeeded int
	failed    int
	units     uint64
}

func (t *runTally) Notify(n plotter.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items++
	if n.Success {
		t.succeeded++
	} else {
		t.failed++
	}
	t.units += n.UnitsProduced
}

func writeRunSummary(ctx context.Context, w output.Writer, t *runTally, f plotter.Finish, start time.Time, onErr func(error)) *output.SummaryRecord {
	elapsed := time.Since(start)
	t.mu.Lock()
	sum := &output.SummaryRecord{
		Outcome:       string(f.Outcome),
		FinalIndex:    f.Index,
		Items:         t.items,
		Succeeded:     t.succeeded,
		Failed:        t.failed,
		Units:         t.units,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	}
	t.mu.Unlock()
	if err := w.WriteSummary(ctx, sum); err != nil {
		onErr(err)
	}
	return sum
}

func writeRunError(ctx context.Context, w output.Writer, err error, onErr func(error)) {
	rec := &output.ErrorRecord{Code: output.ErrCodeEngine, Message: err.Error()}
	var re *plotter.ResumeError
	switch {
	case errors.As(err, &re):
		rec.Code = output.ErrCodeResume
		rec.Path = re.Path
	case plotter.IsStoppedByRequest(err):
		rec.Code = output.ErrCodeStopped
	case plotter.IsRejection(err):
		rec.Code = output.ErrCodeRejected
	}
	if werr := w.WriteError(ctx, rec); werr != nil {
		onErr(werr)
	}
}

// createRunWriter opens the JSONL destination. Empty or "stdout" writes to
// standard output; "file:" prefixes are accepted.
func createRunWriter(dest, runID string) (*output.JSONLWriter, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, runID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
