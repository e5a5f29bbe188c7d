// Package pipeline contains the orchestrator that drives a scan run: stages
// execute strictly in registry order, each raced against a heartbeat ticker
// that keeps the caller's event stream moving while the stage blocks on its
// real work.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xploytlabs/xployt/internal/events"
	"github.com/xploytlabs/xployt/internal/progress"
	"github.com/xploytlabs/xployt/internal/stage"
	"github.com/xploytlabs/xployt/internal/types"
)

// RunStore persists terminal run records. A nil store is fine; the stream is
// the source of truth and persistence is best-effort history.
type RunStore interface {
	SaveRun(ctx context.Context, run *types.PipelineRun) error
	SaveFindings(ctx context.Context, runID string, list []types.Finding) error
}

// Orchestrator schedules pipeline runs. One instance serves many runs;
// everything mutable lives on the per-run context, so runs for different
// repos proceed fully independently.
type Orchestrator struct {
	registry   *stage.Registry
	outputRoot string
	heartbeat  time.Duration
	store      RunStore
}

// Config holds orchestrator construction options.
type Config struct {
	Registry   *stage.Registry
	OutputRoot string        // Parent of per-repo data directories
	Heartbeat  time.Duration // Progress tick (default: 1s)
	Store      RunStore      // Optional run-history persistence
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "output"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Second
	}
	return &Orchestrator{
		registry:   cfg.Registry,
		outputRoot: cfg.OutputRoot,
		heartbeat:  cfg.Heartbeat,
		store:      cfg.Store,
	}, nil
}

// Start launches a scan and returns its live event stream. The returned
// stream always ends in exactly one terminal envelope. Stage work is not
// cancellable from the consumer side: a caller that goes away stops
// receiving envelopes, but the run itself keeps going to completion. That
// is a known limitation of the scheduling model, not an accident.
func (o *Orchestrator) Start(repoID, root string) (*stage.Run, *events.Stream, error) {
	run, err := stage.NewRun(repoID, root, o.outputRoot, nil)
	if err != nil {
		return nil, nil, err
	}
	stream := events.NewStream(0)
	go o.execute(run, stream)
	return run, stream, nil
}

// execute drives the run to a terminal state, emitting envelopes as it goes.
func (o *Orchestrator) execute(run *stage.Run, stream *events.Stream) {
	// Detached from any caller on purpose; see Start.
	ctx := context.Background()

	run.Status = types.RunRunning
	stream.Emit(events.NewSetup(fmt.Sprintf("scan started for %s", run.RepoID)))

	for i, st := range o.registry.Stages() {
		last := i == o.registry.Len()-1

		if err := o.runStage(ctx, run, st, stream, last); err != nil {
			run.Status = types.RunFailed
			run.Error = err.Error()
			stream.Emit(events.NewFailed(run.Progress, err.Error()))
			o.persist(ctx, run, nil)
			return
		}

		if last {
			break
		}
		run.Progress = st.Checkpoint()
		stream.Emit(events.NewProgress(run.Progress, fmt.Sprintf("%s completed", st.Name())))
	}

	// The jump to 100 is the terminal envelope itself, carrying the
	// aggregated findings the final stage left behind.
	var resolved []types.Finding
	if err := readFindings(run.FindingsPath(), &resolved); err != nil {
		run.Status = types.RunFailed
		run.Error = err.Error()
		stream.Emit(events.NewFailed(run.Progress, err.Error()))
		o.persist(ctx, run, nil)
		return
	}
	run.Progress = 100
	run.Status = types.RunCompleted
	stream.Emit(events.NewCompleted(resolved))
	o.persist(ctx, run, resolved)
}

// runStage launches the stage's blocking work as a background task and
// races it against the heartbeat ticker. Ticks emit either interpolated
// sub-checkpoints (when the stage has published a unit count) or plain
// keep-alive envelopes at the current progress value.
func (o *Orchestrator) runStage(ctx context.Context, run *stage.Run, st stage.Stage, stream *events.Stream, last bool) error {
	done := make(chan error, 1)
	go func() {
		done <- executeStage(ctx, st, run)
	}()

	ticker := time.NewTicker(o.heartbeat)
	defer ticker.Stop()

	start := run.Progress
	target := st.Checkpoint()
	counter, counted := st.(stage.UnitCounter)

	tick := 0
	for {
		select {
		case err := <-done:
			return err

		case <-ticker.C:
			tick++
			value := run.Progress
			if counted {
				if units := counter.UnitCount(run); units > 0 {
					value = progress.Interpolate(start, target, units, tick)
				}
			}
			if last && value > progress.FinalStageCap {
				value = progress.FinalStageCap
			}
			if value < run.Progress {
				value = run.Progress
			}
			run.Progress = value
			stream.Emit(events.NewProgress(value, fmt.Sprintf("running %s", st.Name())))
		}
	}
}

// executeStage invokes the stage, converting a panic in stage code into a
// stage error so one bad stage cannot take the whole process down.
func executeStage(ctx context.Context, st stage.Stage, run *stage.Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stage.Error{Stage: st.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := st.Execute(ctx, run); err != nil {
		return &stage.Error{Stage: st.Name(), Err: err}
	}
	return nil
}

// ExecuteStage runs one registry stage synchronously, by position, against a
// fresh run context, and returns the stage's captured log output. This is
// the manual debugging entry point; it bypasses the event stream entirely.
func (o *Orchestrator) ExecuteStage(ctx context.Context, index int, repoID, root string) (string, error) {
	st, err := o.registry.At(index)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	run, err := stage.NewRun(repoID, root, o.outputRoot, &buf)
	if err != nil {
		return "", err
	}
	run.Status = types.RunRunning
	if err := executeStage(ctx, st, run); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

// Registry exposes the stage list for callers that render it (CLI, API).
func (o *Orchestrator) Registry() *stage.Registry { return o.registry }

// readFindings loads the final stage's aggregated summary artifact.
func readFindings(path string, v *[]types.Finding) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("analysis summary missing: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("analysis summary unreadable: %w", err)
	}
	return nil
}

// persist records the terminal run, best-effort.
func (o *Orchestrator) persist(ctx context.Context, run *stage.Run, resolved []types.Finding) {
	if o.store == nil {
		return
	}
	now := time.Now()
	record := &types.PipelineRun{
		ID:         run.ID,
		RepoID:     run.RepoID,
		TargetRoot: run.Root,
		Status:     run.Status,
		Progress:   run.Progress,
		CreatedAt:  run.CreatedAt,
		FinishedAt: &now,
		Error:      run.Error,
	}
	if err := o.store.SaveRun(ctx, record); err != nil {
		run.Logf("failed to persist run record: %v", err)
		return
	}
	if len(resolved) > 0 {
		if err := o.store.SaveFindings(ctx, run.ID, resolved); err != nil {
			run.Logf("failed to persist findings: %v", err)
		}
	}
}
