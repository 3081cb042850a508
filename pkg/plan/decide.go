package plan

// Outcome classifies the result of an advance decision.
type Outcome string

const (
	// OutcomeNext means execution continues with Decision.Next.
	OutcomeNext Outcome = "next"

	// OutcomeComplete means the plan ran out of items.
	OutcomeComplete Outcome = "complete"

	// OutcomeStopped means a stop request halted execution.
	OutcomeStopped Outcome = "stopped"

	// OutcomeNoPlan means there was nothing to advance.
	OutcomeNoPlan Outcome = "no_plan"
)

// Decision is the result of Decide. It describes state changes for the
// caller to apply; Decide itself mutates nothing.
type Decision struct {
	// Index is the post-advance index.
	Index int

	// Next is the item to execute, nil unless Outcome is OutcomeNext.
	Next *Item

	Outcome Outcome

	// ClearPlan requests the plan and index be discarded.
	ClearPlan bool

	// ClearStop requests the stop mode be reset to none.
	ClearStop bool
}

// Decide computes what follows the item at index once it has completed.
//
// The index is advanced by one, then:
//   - past the end: the plan is complete and cleared
//   - hard stop: the plan is cleared
//   - soft stop: a checkpoint still runs, a resume never starts, and a plot
//     only continues while it shares the batch of the completed item
//   - no stop: the next item runs
func Decide(p *Plan, index int, mode StopMode) Decision {
	next := index + 1
	if next >= p.Len() {
		return Decision{Index: next, Outcome: OutcomeComplete, ClearPlan: true, ClearStop: true}
	}

	switch mode {
	case StopHard:
		return Decision{Index: next, Outcome: OutcomeStopped, ClearPlan: true, ClearStop: true}
	case StopSoft:
		candidate := p.Items[next]
		switch candidate.Type {
		case ItemCheckpoint:
			return Decision{Index: next, Next: &candidate, Outcome: OutcomeNext}
		case ItemResume:
			return Decision{Index: next, Outcome: OutcomeStopped, ClearStop: true}
		}
		if index < 0 || !SameBatch(p.Items[index], candidate) {
			return Decision{Index: next, Outcome: OutcomeStopped, ClearStop: true}
		}
		return Decision{Index: next, Next: &candidate, Outcome: OutcomeNext}
	}

	candidate := p.Items[next]
	return Decision{Index: next, Next: &candidate, Outcome: OutcomeNext}
}

// SameBatch reports whether both items are plot items with the same batch id.
func SameBatch(a, b Item) bool {
	ab, ok := a.Batch()
	if !ok {
		return false
	}
	bb, ok := b.Batch()
	if !ok {
		return false
	}
	return ab == bb
}

// CollectBatch returns the unit of work that starts at index: the run of
// consecutive plot items sharing the batch of items[index], or the single
// item when it is not a plot. It returns nil when index is out of range.
func CollectBatch(p *Plan, index int) []Item {
	if index < 0 || index >= p.Len() {
		return nil
	}
	first := p.Items[index]
	out := []Item{first}
	if first.Type != ItemPlot {
		return out
	}
	for i := index + 1; i < len(p.Items); i++ {
		if !SameBatch(first, p.Items[i]) {
			break
		}
		out = append(out, p.Items[i])
	}
	return out
}
