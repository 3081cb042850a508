// Package plan defines plot plans and the pure sequencing logic that decides
// which plan item runs next.
//
// A plan is an ordered list of work items produced by a planner from the
// current drive and device settings. Items are executed one unit at a time:
// a single resume or checkpoint, or a group of plot items sharing a batch id
// that run together as parallel outputs of one engine invocation.
package plan

import (
	"fmt"
	"strings"
)

// CurrentVersion is the plan format version written by this package.
const CurrentVersion = 1

// ItemType discriminates the variants of a plan item.
//
// NOTE: These values appear in plan files and API payloads.
type ItemType string

const (
	// ItemResume continues an interrupted output in a directory.
	ItemResume ItemType = "resume"

	// ItemPlot produces a new output of a given capacity.
	ItemPlot ItemType = "plot"

	// ItemCheckpoint registers newly finished outputs with the miner before
	// plotting continues. It is never batched.
	ItemCheckpoint ItemType = "checkpoint"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemResume, ItemPlot, ItemCheckpoint:
		return true
	}
	return false
}

// Item is one unit of planned work.
//
// Fields are interpreted according to Type:
//   - resume: Path, FileIndex, SizeUnits
//   - plot: Path, Units, BatchID
//   - checkpoint: Path (optional, the drive being registered)
type Item struct {
	Type      ItemType `json:"type" yaml:"type"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty"`
	FileIndex int      `json:"fileIndex,omitempty" yaml:"fileIndex,omitempty"`
	SizeUnits uint64   `json:"sizeUnits,omitempty" yaml:"sizeUnits,omitempty"`
	Units     uint64   `json:"units,omitempty" yaml:"units,omitempty"`
	BatchID   uint32   `json:"batchId,omitempty" yaml:"batchId,omitempty"`
}

// Resume builds a resume item.
func Resume(path string, fileIndex int, sizeUnits uint64) Item {
	return Item{Type: ItemResume, Path: path, FileIndex: fileIndex, SizeUnits: sizeUnits}
}

// Plot builds a plot item.
func Plot(path string, units uint64, batchID uint32) Item {
	return Item{Type: ItemPlot, Path: path, Units: units, BatchID: batchID}
}

// Checkpoint builds a checkpoint item for the given drive. The path may be empty.
func Checkpoint(path string) Item {
	return Item{Type: ItemCheckpoint, Path: path}
}

// Batch returns the batch id of the item. Only plot items carry one.
func (it Item) Batch() (uint32, bool) {
	if it.Type != ItemPlot {
		return 0, false
	}
	return it.BatchID, true
}

// WorkUnits returns the capacity the item is expected to produce.
func (it Item) WorkUnits() uint64 {
	switch it.Type {
	case ItemPlot:
		return it.Units
	case ItemResume:
		return it.SizeUnits
	}
	return 0
}

// String renders a short human description used in logs.
func (it Item) String() string {
	switch it.Type {
	case ItemResume:
		return fmt.Sprintf("resume(%s #%d, %d units)", it.Path, it.FileIndex, it.SizeUnits)
	case ItemPlot:
		return fmt.Sprintf("plot(%s, %d units, batch %d)", it.Path, it.Units, it.BatchID)
	case ItemCheckpoint:
		if it.Path == "" {
			return "checkpoint"
		}
		return fmt.Sprintf("checkpoint(%s)", it.Path)
	}
	return fmt.Sprintf("unknown(%s)", it.Type)
}

// Plan is an ordered, versioned list of work items.
//
// ConfigHash fingerprints the settings the plan was generated from. A plan
// whose hash no longer matches current settings is stale; acting on
// staleness is the caller's decision.
type Plan struct {
	Version        int      `json:"version" yaml:"version"`
	GeneratedAt    int64    `json:"generatedAt" yaml:"generatedAt"`
	ConfigHash     string   `json:"configHash" yaml:"configHash"`
	FinishedDrives []string `json:"finishedDrives,omitempty" yaml:"finishedDrives,omitempty"`
	Items          []Item   `json:"items" yaml:"items"`
}

// Len returns the number of items, treating a nil plan as empty.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Items)
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Items = append([]Item(nil), p.Items...)
	out.FinishedDrives = append([]string(nil), p.FinishedDrives...)
	return &out
}

// IsStale reports whether the plan was generated for a different settings fingerprint.
func (p *Plan) IsStale(currentHash string) bool {
	if p == nil {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(p.ConfigHash), strings.TrimSpace(currentHash))
}

// TotalUnits sums the expected work units of all items.
func (p *Plan) TotalUnits() uint64 {
	if p == nil {
		return 0
	}
	var total uint64
	for _, it := range p.Items {
		total += it.WorkUnits()
	}
	return total
}

// StopMode is the pending stop request of a running plan.
type StopMode string

const (
	// StopNone means no stop is pending.
	StopNone StopMode = "none"

	// StopSoft finishes the item or batch in flight and halts at the next
	// safe boundary, keeping the plan and index.
	StopSoft StopMode = "soft"

	// StopHard aborts the in-flight engine call and discards the plan.
	StopHard StopMode = "hard"
)
