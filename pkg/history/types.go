// Package history keeps a journal of completed plan items.
package history

import (
	"time"

	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

// Outcome is the persisted result of one item.
//
// NOTE: These values are stored in the journal and are part of the on-disk
// contract.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted"
)

// Record is one journal entry.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	Seq           uint64        `json:"seq"`
	DispatchID    string        `json:"dispatch_id"`
	Type          plan.ItemType `json:"type"`
	Path          string        `json:"path,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	UnitsProduced uint64        `json:"units_produced"`
	DurationMs    int64         `json:"duration_ms"`
	BatchSize     int           `json:"batch_size,omitempty"`
	Error         string        `json:"error,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// FromNotification converts a completion notification into a record.
func FromNotification(n plotter.Notification) Record {
	r := Record{
		DispatchID:    n.DispatchID,
		Type:          n.Type,
		Path:          n.Path,
		Outcome:       OutcomeSuccess,
		UnitsProduced: n.UnitsProduced,
		DurationMs:    n.DurationMs,
		BatchSize:     n.BatchSize,
		Error:         n.Error,
		CompletedAt:   n.CompletedAt,
	}
	switch {
	case n.Aborted:
		r.Outcome = OutcomeAborted
	case !n.Success:
		r.Outcome = OutcomeFailed
	}
	return r
}

// Summary aggregates a set of records.
type Summary struct {
	Items     int    `json:"items"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Aborted   int    `json:"aborted"`
	Units     uint64 `json:"units"`
}

// Summarize totals records.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Items++
		switch r.Outcome {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeAborted:
			s.Aborted++
		default:
			s.Failed++
		}
		s.Units += r.UnitsProduced
	}
	return s
}
