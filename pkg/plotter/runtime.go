// Package plotter executes plot plans.
//
// Runtime is the single authoritative holder of execution state. Dispatcher
// runs one execution unit at a time against an engine and reports each item
// through a Sink. Controller optionally drives a plan to completion by
// advancing and dispatching as notifications arrive.
package plotter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/progress"
)

// State is a snapshot of the runtime.
type State struct {
	Running      bool              `json:"running"`
	StopMode     plan.StopMode     `json:"stopMode"`
	Plan         *plan.Plan        `json:"plan"`
	CurrentIndex int               `json:"currentIndex"`
	Progress     progress.Snapshot `json:"progress"`
	Status       Status            `json:"status"`
}

// AdvanceResult reports the outcome of Runtime.Advance.
type AdvanceResult struct {
	Outcome plan.Outcome `json:"outcome"`
	Index   int          `json:"index"`
	Next    *plan.Item   `json:"next"`
}

// Runtime holds plan execution state.
//
// All methods are non-blocking and safe for concurrent use. The plan and
// index are guarded together; stop mode and progress are guarded separately.
// Where both are needed the plan lock is taken first.
type Runtime struct {
	running atomic.Bool

	planMu sync.Mutex
	plan   *plan.Plan
	index  int

	stopMu sync.Mutex
	stop   plan.StopMode
	cancel context.CancelFunc

	statusMu sync.Mutex
	status   Status

	progress *progress.Aggregator
}

// NewRuntime creates an idle runtime without a plan. A nil clock uses wall time.
func NewRuntime(clk clock.Clock) *Runtime {
	return &Runtime{
		stop:     plan.StopNone,
		status:   idleStatus(),
		progress: progress.New(clk),
	}
}

// SetPlan installs a copy of p, resets the index to 0 and clears any stop.
func (r *Runtime) SetPlan(p *plan.Plan) {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	r.plan = p.Clone()
	r.index = 0
	r.ClearStop()
}

// Plan returns a copy of the installed plan, or nil.
func (r *Runtime) Plan() *plan.Plan {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	return r.plan.Clone()
}

// ClearPlan discards the plan, resets the index and clears any stop.
func (r *Runtime) ClearPlan() {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	r.plan = nil
	r.index = 0
	r.ClearStop()
}

// HasPlan reports whether a plan is installed.
func (r *Runtime) HasPlan() bool {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	return r.plan != nil
}

// CurrentIndex returns the index of the next item to execute.
func (r *Runtime) CurrentIndex() int {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	return r.index
}

// AdvanceIndex increments the index and returns the new value. The index
// never moves past the end of the installed plan.
func (r *Runtime) AdvanceIndex() int {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	if r.index < r.plan.Len() {
		r.index++
	}
	return r.index
}

// Current returns the item at the current index.
func (r *Runtime) Current() (plan.Item, error) {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	if r.plan == nil {
		return plan.Item{}, ErrNoPlan
	}
	if r.index >= len(r.plan.Items) {
		return plan.Item{}, ErrPlanExhausted
	}
	return r.plan.Items[r.index], nil
}

// CurrentBatch returns the execution unit that starts at the current index.
func (r *Runtime) CurrentBatch() ([]plan.Item, error) {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	if r.plan == nil {
		return nil, ErrNoPlan
	}
	batch := plan.CollectBatch(r.plan, r.index)
	if len(batch) == 0 {
		return nil, ErrPlanExhausted
	}
	return batch, nil
}

// Start prepares execution of the installed plan and returns the item at the
// current index. A previous stop request is cleared only when the start is
// accepted; a rejected start leaves the stop mode untouched.
func (r *Runtime) Start() (plan.Item, error) {
	if !r.HasPlan() {
		return plan.Item{}, ErrNoPlan
	}
	if r.IsRunning() {
		return plan.Item{}, ErrAlreadyRunning
	}
	item, err := r.Current()
	if err != nil {
		return plan.Item{}, err
	}
	r.ClearStop()
	return item, nil
}

// Advance moves past the item at the current index and decides what runs
// next, applying the plan and stop changes the decision requires.
func (r *Runtime) Advance() AdvanceResult {
	r.planMu.Lock()
	defer r.planMu.Unlock()

	if r.plan == nil {
		return AdvanceResult{Outcome: plan.OutcomeNoPlan}
	}

	d := plan.Decide(r.plan, r.index, r.StopMode())
	r.index = d.Index
	if d.ClearPlan {
		r.plan = nil
		r.index = 0
	}
	if d.ClearStop {
		r.ClearStop()
	}
	return AdvanceResult{Outcome: d.Outcome, Index: d.Index, Next: d.Next}
}

// IsRunning reports whether an execution unit is in flight.
func (r *Runtime) IsRunning() bool {
	return r.running.Load()
}

// SetRunning sets the running flag.
func (r *Runtime) SetRunning(running bool) {
	r.running.Store(running)
}

// tryStart claims the running flag. It fails if another unit holds it.
func (r *Runtime) tryStart() bool {
	return r.running.CompareAndSwap(false, true)
}

// StopMode returns the pending stop request.
func (r *Runtime) StopMode() plan.StopMode {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	return r.stop
}

// RequestSoftStop asks execution to halt at the next batch boundary.
func (r *Runtime) RequestSoftStop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.stop = plan.StopSoft
}

// RequestHardStop aborts the in-flight execution unit, if any. The plan is
// discarded on the next advance.
func (r *Runtime) RequestHardStop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.stop = plan.StopHard
	if r.cancel != nil {
		r.cancel()
	}
}

// ClearStop resets the stop mode. It is idempotent.
func (r *Runtime) ClearStop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.stop = plan.StopNone
}

// bindCancel attaches the cancellation of the dispatch in flight so a hard
// stop can reach it.
func (r *Runtime) bindCancel(cancel context.CancelFunc) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.cancel = cancel
}

func (r *Runtime) unbindCancel() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	r.cancel = nil
}

// ResetProgress starts tracking a new execution unit.
func (r *Runtime) ResetProgress(totalUnits uint64, batchSize int) {
	r.progress.Reset(totalUnits, batchSize)
}

// AddHashingUnits records hashing progress.
func (r *Runtime) AddHashingUnits(delta uint64) {
	r.progress.AddHashing(delta)
}

// AddWritingUnits records writing progress.
func (r *Runtime) AddWritingUnits(delta uint64) {
	r.progress.AddWriting(delta)
}

// UpdateSpeed records the latest throughput estimate in MiB/s.
func (r *Runtime) UpdateSpeed(mibPerSec float64) {
	r.progress.UpdateSpeed(mibPerSec)
}

// MarkItemCompleted records one more finished item of the current batch.
func (r *Runtime) MarkItemCompleted() {
	r.progress.MarkItemCompleted()
}

// Progress returns a snapshot of the current progress.
func (r *Runtime) Progress() progress.Snapshot {
	return r.progress.Snapshot()
}

// Status returns the plotting status with live progress figures.
func (r *Runtime) Status() Status {
	r.statusMu.Lock()
	st := r.status
	r.statusMu.Unlock()

	if st.State == StatusPlotting {
		snap := r.progress.Snapshot()
		st.Progress = snap.Percent
		st.SpeedMiBs = snap.SpeedMiBs
	}
	return st
}

func (r *Runtime) setStatus(st Status) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	r.status = st
}

// State returns a snapshot of the whole runtime.
func (r *Runtime) State() State {
	r.planMu.Lock()
	p := r.plan.Clone()
	index := r.index
	r.planMu.Unlock()

	return State{
		Running:      r.IsRunning(),
		StopMode:     r.StopMode(),
		Plan:         p,
		CurrentIndex: index,
		Progress:     r.Progress(),
		Status:       r.Status(),
	}
}
