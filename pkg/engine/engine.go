// Package engine defines the contract between the plan executor and the
// plot-generation engine that does the actual work.
//
// The engine is opaque: it receives a Task describing one or more parallel
// outputs, streams two-phase progress through a Callback, and returns when
// the task finishes, fails, or its context is cancelled. Cancellation is
// cooperative; engines are expected to poll ctx between work chunks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SeedSize is the length in bytes of a resume seed.
const SeedSize = 32

// ErrInvalidTask indicates a task that cannot be executed.
var ErrInvalidTask = errors.New("invalid engine task")

// Output is one destination of a task.
type Output struct {
	Path  string `json:"path"`
	Units uint64 `json:"units"`
}

// Task is a single engine invocation.
type Task struct {
	Address string   `json:"address"`
	Outputs []Output `json:"outputs"`

	// CPUThreads is the number of CPU worker threads, 0 lets the engine decide.
	CPUThreads int `json:"cpuThreads,omitempty"`

	// GPUs lists device allocations as "platform:device:threads".
	GPUs []string `json:"gpus,omitempty"`

	Compression     int    `json:"compression"`
	Escalation      int    `json:"escalation"`
	MemoryLimit     string `json:"memoryLimit,omitempty"`
	DirectIO        bool   `json:"directIo"`
	ZeroCopyBuffers bool   `json:"zeroCopyBuffers"`
	LowPriority     bool   `json:"lowPriority"`

	// Benchmark runs the engine without writing outputs.
	Benchmark bool `json:"benchmark"`

	// ResumeSeed is set when continuing an interrupted output.
	ResumeSeed []byte `json:"resumeSeed,omitempty"`
}

// TotalUnits sums the units of all outputs.
func (t Task) TotalUnits() uint64 {
	var total uint64
	for _, o := range t.Outputs {
		total += o.Units
	}
	return total
}

// Validate checks the task is complete enough to hand to an engine.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidTask)
	}
	if len(t.Outputs) == 0 {
		return fmt.Errorf("%w: at least one output is required", ErrInvalidTask)
	}
	for i, o := range t.Outputs {
		if strings.TrimSpace(o.Path) == "" {
			return fmt.Errorf("%w: output %d has no path", ErrInvalidTask, i)
		}
		if o.Units == 0 {
			return fmt.Errorf("%w: output %d has no units", ErrInvalidTask, i)
		}
	}
	if t.ResumeSeed != nil && len(t.ResumeSeed) != SeedSize {
		return fmt.Errorf("%w: resume seed must be %d bytes, got %d", ErrInvalidTask, SeedSize, len(t.ResumeSeed))
	}
	return nil
}

// Callback receives progress from a running task. Calls may come from any
// goroutine but are never concurrent for a single task.
type Callback interface {
	// Started reports the total work and, for resumed outputs, the units
	// already present on disk.
	Started(totalUnits, resumeOffset uint64)

	HashingProgress(delta uint64)
	WritingProgress(delta uint64)

	// Speed reports the engine's current throughput estimate in MiB/s.
	Speed(mibPerSec float64)
}

// Engine runs plot tasks.
type Engine interface {
	Plot(ctx context.Context, task Task, cb Callback) error
}

// NopCallback discards progress.
type NopCallback struct{}

func (NopCallback) Started(uint64, uint64) {}
func (NopCallback) HashingProgress(uint64) {}
func (NopCallback) WritingProgress(uint64) {}
func (NopCallback) Speed(float64)          {}
