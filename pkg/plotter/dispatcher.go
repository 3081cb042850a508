package plotter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/engine"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

// Device is a plotting device allocation. The CPU uses the id "cpu"; GPUs
// use "platform:device[:cores]".
type Device struct {
	ID      string
	Enabled bool
	Threads int
}

// TaskSettings are the engine parameters shared by every dispatch.
type TaskSettings struct {
	Address         string
	Devices         []Device
	Compression     int
	Escalation      int
	MemoryLimit     string
	DirectIO        bool
	ZeroCopyBuffers bool
	LowPriority     bool
	Benchmark       bool
}

// Notification reports the outcome of one dispatched item.
type Notification struct {
	DispatchID    string        `json:"dispatchId"`
	Type          plan.ItemType `json:"type"`
	Path          string        `json:"path"`
	Success       bool          `json:"success"`
	UnitsProduced uint64        `json:"unitsProduced"`
	DurationMs    int64         `json:"durationMs"`
	Error         string        `json:"error,omitempty"`

	// Aborted is set when the item failed because of a hard stop.
	Aborted bool `json:"aborted,omitempty"`

	// BatchSize is set for items dispatched through ExecuteBatch.
	BatchSize int `json:"batchSize,omitempty"`

	// Seq is the 1-based position of the item within its dispatch.
	Seq int `json:"seq"`

	// Total is the number of notifications the dispatch emits.
	Total int `json:"total"`

	Item        plan.Item `json:"item"`
	CompletedAt time.Time `json:"completedAt"`
}

// Last reports whether n is the final notification of its dispatch.
func (n Notification) Last() bool {
	return n.Seq >= n.Total
}

// Sink receives completion notifications.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notification) { f(n) }

// Registrar records drives whose outputs are ready for mining.
type Registrar interface {
	Register(path string) error
}

// Ack acknowledges an accepted dispatch. Results arrive later as notifications.
type Ack struct {
	DispatchID string `json:"dispatchId"`
	Accepted   bool   `json:"accepted"`
	Items      int    `json:"items"`
	TotalUnits uint64 `json:"totalUnits"`
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Runtime *Runtime
	Engine  engine.Engine

	// Settings returns the current engine parameters. It is called once per dispatch.
	Settings func() TaskSettings

	Sink      Sink
	Registrar Registrar
	Logger    *zap.Logger
	Clock     clock.Clock

	// BaseContext is the parent of every dispatch context. Cancelling it
	// aborts the dispatch in flight.
	BaseContext context.Context

	// ProgressLogInterval throttles progress log lines.
	ProgressLogInterval time.Duration
}

// Dispatcher runs execution units in the background, one at a time.
type Dispatcher struct {
	rt        *Runtime
	eng       engine.Engine
	settings  func() TaskSettings
	sink      Sink
	registrar Registrar
	logger    *zap.Logger
	clock     clock.Clock
	baseCtx   context.Context
	logEvery  time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		rt:        cfg.Runtime,
		eng:       cfg.Engine,
		settings:  cfg.Settings,
		sink:      cfg.Sink,
		registrar: cfg.Registrar,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		baseCtx:   cfg.BaseContext,
		logEvery:  cfg.ProgressLogInterval,
	}
	if d.rt == nil {
		d.rt = NewRuntime(cfg.Clock)
	}
	if d.settings == nil {
		d.settings = func() TaskSettings { return TaskSettings{} }
	}
	if d.sink == nil {
		d.sink = SinkFunc(func(Notification) {})
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.clock == nil {
		d.clock = clock.NewDefaultClock()
	}
	if d.baseCtx == nil {
		d.baseCtx = context.Background()
	}
	if d.logEvery <= 0 {
		d.logEvery = 10 * time.Second
	}
	return d
}

// Runtime returns the runtime the dispatcher reports into.
func (d *Dispatcher) Runtime() *Runtime {
	return d.rt
}

// SetSink replaces the notification sink. It must be called before the
// first dispatch.
func (d *Dispatcher) SetSink(s Sink) {
	if s != nil {
		d.sink = s
	}
}

// ExecuteItem dispatches a single item. Checkpoints complete synchronously;
// plot and resume items run in the background and the call returns as soon
// as the engine has been started.
func (d *Dispatcher) ExecuteItem(ctx context.Context, item plan.Item) (Ack, error) {
	if d.rt.IsRunning() {
		return Ack{}, ErrAlreadyRunning
	}

	dispatchID := uuid.New().String()
	if item.Type == plan.ItemCheckpoint {
		return d.checkpoint(ctx, dispatchID, item)
	}
	if !item.Type.Valid() {
		return Ack{}, fmt.Errorf("unknown item type %q", item.Type)
	}

	settings := d.settings()
	if strings.TrimSpace(settings.Address) == "" {
		return Ack{}, ErrNoAddress
	}

	var seed []byte
	if item.Type == plan.ItemResume {
		target, err := resolveResume(item.Path)
		if err != nil {
			d.rt.setStatus(errorStatus(err))
			d.logger.Error("Failed to resolve resume target",
				zap.String("path", item.Path),
				zap.Error(err))
			return Ack{}, err
		}
		seed = target.Seed
		d.logger.Info("Resuming interrupted output",
			zap.String("dispatch_id", dispatchID),
			zap.String("tmp_file", target.TempFile))
	}

	task := buildTask(settings, []plan.Item{item})
	task.ResumeSeed = seed
	return d.launch(dispatchID, []plan.Item{item}, task, 0)
}

// ExecuteBatch dispatches plot and resume items as one engine invocation
// with parallel outputs. Checkpoints in the batch are skipped; they run on
// their own once the batch is done.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, items []plan.Item) (Ack, error) {
	if d.rt.IsRunning() {
		return Ack{}, ErrAlreadyRunning
	}

	settings := d.settings()
	if strings.TrimSpace(settings.Address) == "" {
		return Ack{}, ErrNoAddress
	}

	work := make([]plan.Item, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case plan.ItemPlot, plan.ItemResume:
			work = append(work, it)
		case plan.ItemCheckpoint:
			d.logger.Info("Skipping checkpoint item in batch", zap.String("path", it.Path))
		default:
			return Ack{}, fmt.Errorf("unknown item type %q", it.Type)
		}
	}
	if len(work) == 0 {
		return Ack{}, ErrEmptyBatch
	}

	dispatchID := uuid.New().String()
	task := buildTask(settings, work)

	var resume *plan.Item
	for i := range work {
		if work[i].Type != plan.ItemResume {
			continue
		}
		if resume != nil {
			return Ack{}, ErrMultipleResumes
		}
		resume = &work[i]
	}
	if resume != nil {
		target, err := resolveResume(resume.Path)
		if err != nil {
			d.rt.setStatus(errorStatus(err))
			d.logger.Error("Failed to resolve resume target",
				zap.String("path", resume.Path),
				zap.Error(err))
			return Ack{}, err
		}
		task.ResumeSeed = target.Seed
		d.logger.Info("Resuming interrupted output",
			zap.String("dispatch_id", dispatchID),
			zap.String("tmp_file", target.TempFile))
	}
	return d.launch(dispatchID, work, task, len(work))
}

func (d *Dispatcher) checkpoint(ctx context.Context, dispatchID string, item plan.Item) (Ack, error) {
	start := d.clock.Now()
	n := Notification{
		DispatchID: dispatchID,
		Type:       plan.ItemCheckpoint,
		Path:       item.Path,
		Success:    true,
		Seq:        1,
		Total:      1,
		Item:       item,
	}
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if d.registrar != nil {
		if err := d.registrar.Register(item.Path); err != nil {
			n.Success = false
			n.Error = err.Error()
		}
	}
	now := d.clock.Now()
	n.DurationMs = now.Sub(start).Milliseconds()
	n.CompletedAt = now.UTC()

	d.logger.Info("Checkpoint reached",
		zap.String("dispatch_id", dispatchID),
		zap.String("path", item.Path),
		zap.Bool("success", n.Success))

	d.sink.Notify(n)
	return Ack{DispatchID: dispatchID, Accepted: true, Items: 1}, nil
}

func (d *Dispatcher) launch(dispatchID string, items []plan.Item, task engine.Task, batchSize int) (Ack, error) {
	if !d.rt.tryStart() {
		return Ack{}, ErrAlreadyRunning
	}

	paths := make([]string, 0, len(items))
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	total := task.TotalUnits()

	d.rt.ResetProgress(total, len(items))
	d.rt.setStatus(plottingStatus(paths))

	ctx, cancel := context.WithCancel(d.baseCtx)
	d.rt.bindCancel(cancel)

	d.logger.Info("Starting plotter",
		zap.String("dispatch_id", dispatchID),
		zap.Int("outputs", len(task.Outputs)),
		zap.Uint64("total_units", total),
		zap.Int("cpu_threads", task.CPUThreads),
		zap.Strings("gpus", task.GPUs),
		zap.Bool("benchmark", task.Benchmark))

	go d.run(ctx, cancel, dispatchID, items, task, batchSize)

	return Ack{DispatchID: dispatchID, Accepted: true, Items: len(items), TotalUnits: total}, nil
}

func (d *Dispatcher) run(ctx context.Context, cancel context.CancelFunc, dispatchID string, items []plan.Item, task engine.Task, batchSize int) {
	cb := &progressCallback{
		rt:     d.rt,
		logger: d.logger.With(zap.String("dispatch_id", dispatchID)),
		every:  rate.Sometimes{Interval: d.logEvery},
	}

	start := d.clock.Now()
	err := d.invoke(ctx, task, cb)
	finished := d.clock.Now()
	duration := finished.Sub(start)

	if err != nil && ctx.Err() != nil {
		err = ErrStoppedByRequest
	}

	d.rt.unbindCancel()
	cancel()
	d.rt.setStatus(idleStatus())
	d.rt.SetRunning(false)

	var panicErr *PanicError
	switch {
	case err == nil:
		d.logger.Info("Plotter finished",
			zap.String("dispatch_id", dispatchID),
			zap.Uint64("total_units", task.TotalUnits()),
			zap.Duration("duration", duration))
	case errors.Is(err, ErrStoppedByRequest):
		d.logger.Warn("Plotter stopped by request",
			zap.String("dispatch_id", dispatchID),
			zap.Duration("duration", duration))
	case errors.As(err, &panicErr):
		d.logger.Error("Plotter task panicked",
			zap.String("dispatch_id", dispatchID),
			zap.Error(err))
	default:
		d.logger.Error("Plot failed",
			zap.String("dispatch_id", dispatchID),
			zap.Error(err))
	}

	for i, it := range items {
		n := Notification{
			DispatchID:  dispatchID,
			Type:        it.Type,
			Path:        it.Path,
			Success:     err == nil,
			DurationMs:  duration.Milliseconds(),
			BatchSize:   batchSize,
			Seq:         i + 1,
			Total:       len(items),
			Item:        it,
			CompletedAt: finished.UTC(),
		}
		if err == nil {
			n.UnitsProduced = it.WorkUnits()
			d.rt.MarkItemCompleted()
		} else {
			n.Error = err.Error()
			n.Aborted = IsStoppedByRequest(err)
		}
		d.sink.Notify(n)
	}
}

// invoke calls the engine, converting a panic into a PanicError.
func (d *Dispatcher) invoke(ctx context.Context, task engine.Task, cb engine.Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return d.eng.Plot(ctx, task, cb)
}

func resolveResume(dir string) (drives.ResumeTarget, error) {
	target, err := drives.ResolveResume(dir)
	if err == nil {
		return target, nil
	}
	if errors.Is(err, drives.ErrInvalidSeed) {
		return drives.ResumeTarget{}, &ResumeError{Path: dir, Err: ErrResumeSeedInvalid, Cause: err}
	}
	return drives.ResumeTarget{}, &ResumeError{Path: dir, Err: ErrResumeTargetNotFound, Cause: err}
}

// buildTask translates items and settings into an engine task. Enabled GPU
// devices become "platform:device:threads" with the configured thread count;
// the enabled CPU device sets the CPU thread count.
func buildTask(s TaskSettings, items []plan.Item) engine.Task {
	task := engine.Task{
		Address:         strings.TrimSpace(s.Address),
		Compression:     s.Compression,
		Escalation:      s.Escalation,
		MemoryLimit:     s.MemoryLimit,
		DirectIO:        s.DirectIO,
		ZeroCopyBuffers: s.ZeroCopyBuffers,
		LowPriority:     s.LowPriority,
		Benchmark:       s.Benchmark,
	}
	for _, it := range items {
		task.Outputs = append(task.Outputs, engine.Output{Path: it.Path, Units: it.WorkUnits()})
	}
	for _, dev := range s.Devices {
		if !dev.Enabled {
			continue
		}
		if dev.ID == "cpu" {
			task.CPUThreads = dev.Threads
			continue
		}
		parts := strings.Split(dev.ID, ":")
		if len(parts) >= 2 {
			task.GPUs = append(task.GPUs, fmt.Sprintf("%s:%s:%d", parts[0], parts[1], dev.Threads))
		} else {
			task.GPUs = append(task.GPUs, dev.ID)
		}
	}
	return task
}

// progressCallback feeds engine progress into the runtime.
type progressCallback struct {
	rt     *Runtime
	logger *zap.Logger
	every  rate.Sometimes
}

func (c *progressCallback) Started(totalUnits, resumeOffset uint64) {
	remaining := totalUnits
	if resumeOffset < totalUnits {
		remaining = totalUnits - resumeOffset
	}
	c.rt.progress.SetTotal(remaining)
	c.logger.Info("Plotter started",
		zap.Uint64("total_units", totalUnits),
		zap.Uint64("resume_offset", resumeOffset))
}

func (c *progressCallback) HashingProgress(delta uint64) {
	c.rt.AddHashingUnits(delta)
	c.logProgress()
}

func (c *progressCallback) WritingProgress(delta uint64) {
	c.rt.AddWritingUnits(delta)
	c.logProgress()
}

func (c *progressCallback) Speed(mibPerSec float64) {
	c.rt.UpdateSpeed(mibPerSec)
}

func (c *progressCallback) logProgress() {
	c.every.Do(func() {
		snap := c.rt.Progress()
		c.logger.Debug("Plotting progress",
			zap.Float64("percent", snap.Percent),
			zap.Float64("speed_mib_s", snap.SpeedMiBs))
	})
}
