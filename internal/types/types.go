// Package types holds the core data model shared across the scan pipeline.
package types

import (
	"fmt"
	"time"
)

// PipelineRun tracks one scan of a target codebase from trigger to terminal state.
// It is owned exclusively by the orchestrator that created it; nothing else
// mutates it while the run is live.
type PipelineRun struct {
	ID         string     `json:"id"`
	RepoID     string     `json:"repo_id"`
	TargetRoot string     `json:"target_root"`
	Status     RunStatus  `json:"status"`
	Progress   int        `json:"progress"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransitionTo enforces the pending -> running -> {completed|failed}
// lifecycle; backward transitions are never allowed.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning
	case RunRunning:
		return next == RunCompleted || next == RunFailed
	}
	return false
}

// Finding is one reported issue from the analysis stage. SourcePath starts
// absolute and is rewritten relative to the scan root during aggregation.
// Line is empty until the locator resolves the snippet, and findings that
// stay unresolved are dropped before the final envelope.
type Finding struct {
	SourcePath  string     `json:"source_path"`
	Snippet     string     `json:"snippet,omitempty"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Severity    Severity   `json:"severity"`
	Confidence  Confidence `json:"confidence"`
	Remediation string     `json:"remediation"`
	Line        []int      `json:"line"`
}

// Validate checks that the finding is structurally sound. Line must be
// either empty or a contiguous ascending run of 1-indexed line numbers.
func (f *Finding) Validate() error {
	if f.SourcePath == "" {
		return fmt.Errorf("source_path is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if !f.Confidence.IsValid() {
		return fmt.Errorf("invalid confidence: %s", f.Confidence)
	}
	for i, n := range f.Line {
		if n < 1 {
			return fmt.Errorf("line numbers are 1-indexed (got %d)", n)
		}
		if i > 0 && n != f.Line[i-1]+1 {
			return fmt.Errorf("line range must be contiguous (got %v)", f.Line)
		}
	}
	return nil
}

// Resolved reports whether the finding carries a usable line range.
func (f *Finding) Resolved() bool {
	return len(f.Line) > 0
}

// Severity indicates how damaging an exploited finding would be
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Confidence indicates how certain the analysis is that the finding is real
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// IsValid checks if the confidence value is valid
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}
