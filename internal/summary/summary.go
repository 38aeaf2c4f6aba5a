// Package summary implements the folder summary aggregator: running totals
// per classification bin, published to an observer throttled during a job
// and once, un-throttled, at its end (spec.md §4.5).
package summary

import (
	"sync"
	"time"

	"github.com/halvarsen/compactd/internal/walk"
)

// BinTotals is the running count/logical/physical triple for one bin.
type BinTotals struct {
	Count       uint64 `json:"count"`
	LogicalSize uint64 `json:"logical_size"`
	PhysicalSize uint64 `json:"physical_size"`
}

// Snapshot is an immutable read of the aggregator at a point in time,
// matching the wire shape in spec.md §6.
type Snapshot struct {
	LogicalSize  uint64    `json:"logical_size"`
	PhysicalSize uint64    `json:"physical_size"`
	Compressed   BinTotals `json:"compressed"`
	Compressible BinTotals `json:"compressible"`
	Skipped      BinTotals `json:"skipped"`
}

// Ratio returns physical/logical, or 1.00 when logical is zero (spec.md
// §4.5).
func (s Snapshot) Ratio() float64 {
	if s.LogicalSize == 0 {
		return 1.00
	}
	return float64(s.PhysicalSize) / float64(s.LogicalSize)
}

// Summary is the mutable aggregator a job engine owns for the duration of
// one job. It is safe for concurrent read (via Snapshot) while the worker
// goroutine is the sole writer.
type Summary struct {
	mu   sync.Mutex
	bins map[walk.Bin]*BinTotals
}

// New returns an all-zero Summary.
func New() *Summary {
	return &Summary{
		bins: map[walk.Bin]*BinTotals{
			walk.BinCompressed:   {},
			walk.BinCompressible: {},
			walk.BinSkipped:      {},
		},
	}
}

// Add folds one classified entry into the running totals.
func (s *Summary) Add(bin walk.Bin, logical, physical int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bins[bin]
	b.Count++
	b.LogicalSize += uint64(logical)
	b.PhysicalSize += uint64(physical)
}

// Snapshot returns a coherent, immutable copy of the current totals.
func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Compressed:   *s.bins[walk.BinCompressed],
		Compressible: *s.bins[walk.BinCompressible],
		Skipped:      *s.bins[walk.BinSkipped],
	}
	snap.LogicalSize = snap.Compressed.LogicalSize + snap.Compressible.LogicalSize + snap.Skipped.LogicalSize
	snap.PhysicalSize = snap.Compressed.PhysicalSize + snap.Compressible.PhysicalSize + snap.Skipped.PhysicalSize
	return snap
}

// Throttle rate-limits Snapshot emission to at most once per interval
// during a job (spec.md §4.5). It only gates non-final snapshots; the final,
// un-throttled snapshot is emitted by the caller without consulting it. It
// is not safe for concurrent use by more than one goroutine —
// the job engine's single worker is its only caller.
type Throttle struct {
	interval time.Duration
	last     time.Time
}

// NewThrottle returns a Throttle gating emissions to interval apart.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Allow reports whether a non-final snapshot may be emitted now.
func (t *Throttle) Allow(now time.Time) bool {
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
