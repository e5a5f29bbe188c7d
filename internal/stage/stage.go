// Package stage defines the contract every pipeline stage implements and the
// fixed, ordered registry a run walks through.
package stage

import (
	"context"
	"fmt"
)

// Stage is one unit of pipeline work. Execute does the stage's blocking work
// and persists its output artifact under the run's data directory; it must
// not touch anything outside locations derivable from the run. Checkpoint is
// the progress percentage the run reaches when the stage completes.
type Stage interface {
	Name() string
	Checkpoint() int
	Execute(ctx context.Context, run *Run) error
}

// UnitCounter is optionally implemented by stages whose internal work splits
// into a runtime-known number of independent units (files to summarize,
// subsets to analyze). The orchestrator uses the count to interpolate
// sub-checkpoints between the previous stage's checkpoint and this one's.
// A return of 0 means the count is not known yet.
type UnitCounter interface {
	UnitCount(run *Run) int
}

// Registry is the static ordered sequence of stages for a run. It is built
// once at startup; stages are never resolved by name at runtime.
type Registry struct {
	stages []Stage
}

// NewRegistry validates and freezes the stage order. Checkpoints must be
// strictly increasing, within (0, 100], and the last stage must land on 100.
func NewRegistry(stages ...Stage) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("registry requires at least one stage")
	}
	prev := 0
	for _, s := range stages {
		cp := s.Checkpoint()
		if cp <= prev {
			return nil, fmt.Errorf("stage %q checkpoint %d is not greater than previous checkpoint %d", s.Name(), cp, prev)
		}
		if cp > 100 {
			return nil, fmt.Errorf("stage %q checkpoint %d exceeds 100", s.Name(), cp)
		}
		prev = cp
	}
	if prev != 100 {
		return nil, fmt.Errorf("final stage checkpoint must be 100 (got %d)", prev)
	}
	return &Registry{stages: stages}, nil
}

// Len returns the number of stages.
func (r *Registry) Len() int { return len(r.stages) }

// At returns the stage at position i.
func (r *Registry) At(i int) (Stage, error) {
	if i < 0 || i >= len(r.stages) {
		return nil, fmt.Errorf("stage index %d out of range [0,%d)", i, len(r.stages))
	}
	return r.stages[i], nil
}

// Stages returns the ordered stage list. Callers must not modify it.
func (r *Registry) Stages() []Stage { return r.stages }

// Error wraps a failure from a stage's background task so the orchestrator
// can report which stage halted the run.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
