package plotter

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

// Finish describes why an auto-advanced run ended.
type Finish struct {
	Outcome plan.Outcome `json:"outcome"`
	Index   int          `json:"index"`
	Err     error        `json:"-"`
}

// Controller drives a plan to completion. It listens for notifications,
// advances the runtime once per completed item and dispatches the next unit
// of work once the last item of a dispatch has reported.
//
// A failed item halts the run with plan and index kept. An item aborted by a
// hard stop advances once more so the plan is discarded.
type Controller struct {
	rt     *Runtime
	d      *Dispatcher
	logger *zap.Logger

	mu       sync.Mutex
	onFinish []func(Finish)
}

// NewController wires a controller to d. The controller must be registered
// as a sink of d's notifications for it to make progress.
func NewController(d *Dispatcher, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{rt: d.Runtime(), d: d, logger: logger}
}

// OnFinish registers fn to be called when a run halts or completes.
func (c *Controller) OnFinish(fn func(Finish)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinish = append(c.onFinish, fn)
}

// Start clears any stop request and dispatches the unit of work at the
// current index.
func (c *Controller) Start(ctx context.Context) (plan.Item, Ack, error) {
	item, err := c.rt.Start()
	if err != nil {
		return plan.Item{}, Ack{}, err
	}
	ack, err := c.dispatchCurrent(ctx)
	if err != nil {
		return item, Ack{}, err
	}
	return item, ack, nil
}

// Notify implements Sink.
func (c *Controller) Notify(n Notification) {
	// Every item of a dispatch shares its outcome, so failures act on the
	// last notification only.
	if !n.Success {
		if !n.Last() {
			return
		}
		if n.Aborted {
			res := c.rt.Advance()
			c.finish(Finish{Outcome: plan.OutcomeStopped, Index: res.Index, Err: ErrStoppedByRequest})
			return
		}
		c.logger.Warn("Plan halted after failed item",
			zap.String("path", n.Path),
			zap.String("error", n.Error),
			zap.Int("index", c.rt.CurrentIndex()))
		c.finish(Finish{Outcome: plan.OutcomeStopped, Index: c.rt.CurrentIndex(), Err: errors.New(n.Error)})
		return
	}

	res := c.rt.Advance()
	if !n.Last() {
		return
	}

	switch res.Outcome {
	case plan.OutcomeNext:
		if _, err := c.dispatchCurrent(context.Background()); err != nil {
			c.logger.Error("Failed to dispatch next item",
				zap.Int("index", res.Index),
				zap.Error(err))
			c.finish(Finish{Outcome: plan.OutcomeStopped, Index: c.rt.CurrentIndex(), Err: err})
		}
	case plan.OutcomeStopped:
		c.logger.Info("Plan stopped", zap.Int("index", res.Index))
		c.finish(Finish{Outcome: res.Outcome, Index: res.Index})
	case plan.OutcomeComplete:
		c.logger.Info("Plan complete")
		c.finish(Finish{Outcome: res.Outcome, Index: res.Index})
	}
}

func (c *Controller) dispatchCurrent(ctx context.Context) (Ack, error) {
	batch, err := c.rt.CurrentBatch()
	if err != nil {
		return Ack{}, err
	}
	if len(batch) == 1 {
		return c.d.ExecuteItem(ctx, batch[0])
	}
	return c.d.ExecuteBatch(ctx, batch)
}

func (c *Controller) finish(f Finish) {
	c.mu.Lock()
	fns := append([]func(Finish){}, c.onFinish...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(f)
	}
}
