package engine

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const unitMiB = 1024

// SimulatedConfig configures a Simulated engine.
type SimulatedConfig struct {
	// UnitsPerTick is how many units each phase advances per tick.
	UnitsPerTick uint64

	// Tick is the interval between progress steps.
	Tick time.Duration

	Clock clock.Clock
}

// DefaultSimulatedConfig returns defaults suitable for demos and benchmarks.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		UnitsPerTick: 8,
		Tick:         250 * time.Millisecond,
	}
}

// Simulated is an engine that reports progress without producing outputs.
// It backs simulation mode and device benchmarks.
type Simulated struct {
	cfg SimulatedConfig
}

// NewSimulated creates a simulated engine.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	def := DefaultSimulatedConfig()
	if cfg.UnitsPerTick == 0 {
		cfg.UnitsPerTick = def.UnitsPerTick
	}
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Simulated{cfg: cfg}
}

// Plot hashes then writes the task's total units, one step per tick.
func (s *Simulated) Plot(ctx context.Context, task Task, cb Callback) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if cb == nil {
		cb = NopCallback{}
	}

	total := task.TotalUnits()
	cb.Started(total, 0)

	// Each step moves UnitsPerTick units of unitMiB in one tick.
	speed := float64(s.cfg.UnitsPerTick*unitMiB) / s.cfg.Tick.Seconds()
	for _, phase := range []func(uint64){cb.HashingProgress, cb.WritingProgress} {
		cb.Speed(speed)
		var done uint64
		for done < total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.cfg.Clock.TickAfter(s.cfg.Tick):
			}
			step := min(s.cfg.UnitsPerTick, total-done)
			phase(step)
			done += step
		}
	}
	return nil
}

var _ Engine = (*Simulated)(nil)
