// Package progress aggregates two-phase plotting progress into a single
// percentage and throughput figure.
//
// An engine reports work in two phases: units hashed, then units written.
// Each phase contributes half of the overall percentage.
package progress

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// MiBPerUnit is the size of one capacity unit in MiB.
const MiBPerUnit = 1024

// Snapshot is a point-in-time copy of plotting progress.
type Snapshot struct {
	HashingUnits     uint64    `json:"hashingUnits"`
	WritingUnits     uint64    `json:"writingUnits"`
	TotalUnits       uint64    `json:"totalUnits"`
	BatchSize        int       `json:"batchSize"`
	CompletedInBatch int       `json:"completedInBatch"`
	StartTime        time.Time `json:"startTime"`
	Percent          float64   `json:"percent"`
	SpeedMiBs        float64   `json:"speedMiBs"`

	// DerivedSpeedMiBs is the average write rate since Reset, computed from
	// the writing counter. It never replaces SpeedMiBs.
	DerivedSpeedMiBs float64 `json:"derivedSpeedMiBs"`
}

// Aggregator holds progress for the execution unit in flight.
//
// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	clock clock.Clock
	cur   Snapshot
}

// New returns an aggregator using the given clock. A nil clock uses wall time.
func New(clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Aggregator{clock: clk}
}

// Reset starts tracking a new execution unit.
func (a *Aggregator) Reset(totalUnits uint64, batchSize int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cur = Snapshot{
		TotalUnits: totalUnits,
		BatchSize:  batchSize,
		StartTime:  a.clock.Now(),
	}
}

// SetTotal replaces the total once the engine reports the real amount of
// work, for example after a resume offset has been subtracted.
func (a *Aggregator) SetTotal(totalUnits uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cur.TotalUnits = totalUnits
	a.recompute()
}

// AddHashing adds delta units to the hashing counter.
func (a *Aggregator) AddHashing(delta uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cur.HashingUnits += delta
	a.recompute()
}

// AddWriting adds delta units to the writing counter.
func (a *Aggregator) AddWriting(delta uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cur.WritingUnits += delta
	a.recompute()
	if elapsed := a.clock.Now().Sub(a.cur.StartTime).Seconds(); elapsed > 0 {
		a.cur.DerivedSpeedMiBs = float64(a.cur.WritingUnits*MiBPerUnit) / elapsed
	}
}

// UpdateSpeed records the latest throughput estimate in MiB/s. No smoothing
// is applied.
func (a *Aggregator) UpdateSpeed(mibPerSec float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cur.SpeedMiBs = mibPerSec
}

// MarkItemCompleted records that one more item of the batch finished.
func (a *Aggregator) MarkItemCompleted() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cur.CompletedInBatch < a.cur.BatchSize {
		a.cur.CompletedInBatch++
	}
}

// Snapshot returns a copy of the current progress.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cur
}

func (a *Aggregator) recompute() {
	a.cur.Percent = Percent(a.cur.HashingUnits, a.cur.WritingUnits, a.cur.TotalUnits)
}

// Percent blends both phases into a 0..100 figure: each phase contributes
// half. The result is clamped to 100 and is 0 when total is 0.
func Percent(hashing, writing, total uint64) float64 {
	if total == 0 {
		return 0
	}
	t := float64(total)
	p := 50*float64(hashing)/t + 50*float64(writing)/t
	if p > 100 {
		return 100
	}
	return p
}
