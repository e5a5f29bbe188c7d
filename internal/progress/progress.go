// Package progress computes the monotonic 0-100 checkpoints emitted while a
// scan pipeline runs. Each stage owns a fixed target checkpoint; when a
// stage's internal work count is known at runtime the interval up to that
// checkpoint is subdivided so the caller sees movement between checkpoints.
package progress

import (
	"math"
	"sync"
)

// FinalStageCap is the highest value interpolation may emit during the last
// stage. The jump to 100 is reserved for true completion, so even when the
// arithmetic lands above this the emitted value stays pinned here until the
// stage's task actually finishes.
const FinalStageCap = 98

// Interpolate returns the candidate progress value for heartbeat tick i
// (1-indexed) while a stage moves from the previous checkpoint toward its
// own. units is the stage's runtime work count; pass 1 when unknown.
// The result never exceeds target, and ties round half up.
func Interpolate(start, target, units, tick int) int {
	if units < 1 {
		units = 1
	}
	step := float64(target-start) / float64(units)
	candidate := int(math.Floor(float64(start) + step*float64(tick) + 0.5))
	if candidate > target {
		return target
	}
	return candidate
}

// Record holds the unit counts stages publish while they execute, keyed by
// stage name. One Record belongs to exactly one run and is created fresh at
// run start, so counts from a previous run of the same repo never leak in.
type Record struct {
	mu    sync.Mutex
	units map[string]int
}

// NewRecord creates an empty unit-count record for a run.
func NewRecord() *Record {
	return &Record{units: make(map[string]int)}
}

// SetUnits publishes a stage's runtime work count. Last writer wins.
func (r *Record) SetUnits(stage string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[stage] = n
}

// Units returns the published count for a stage, or false if the stage has
// not reported one yet.
func (r *Record) Units(stage string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.units[stage]
	return n, ok
}
