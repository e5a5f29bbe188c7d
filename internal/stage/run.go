package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/xploytlabs/xployt/internal/progress"
	"github.com/xploytlabs/xployt/internal/types"
)

// Run is the run-scoped context handed to every stage. It replaces any
// process-global state: artifact paths derive from the repo identity, and
// unit counts published for progress tracking live in a record owned by
// this run alone, created fresh when the run starts.
type Run struct {
	ID     string
	RepoID string
	// Root is the absolute path of the codebase being scanned.
	Root string
	// DataDir is where every stage artifact for this run is written:
	// <output root>/<repo id>_data.
	DataDir string
	// Units collects runtime work counts stages publish for interpolation.
	Units *progress.Record

	Status    types.RunStatus
	Progress  int
	Error     string
	CreatedAt time.Time

	logw io.Writer
}

// NewRun creates the context for one scan. outputRoot is the parent
// directory for all run data directories; logw receives stage log output
// (defaults to stdout).
func NewRun(repoID, root, outputRoot string, logw io.Writer) (*Run, error) {
	if repoID == "" {
		return nil, fmt.Errorf("repo id is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("target root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target root %s is not a directory", root)
	}
	dataDir := filepath.Join(outputRoot, repoID+"_data")
	if err := os.MkdirAll(filepath.Join(dataDir, "pipeline_outputs"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if logw == nil {
		logw = os.Stdout
	}
	return &Run{
		ID:        uuid.New().String(),
		RepoID:    repoID,
		Root:      root,
		DataDir:   dataDir,
		Units:     progress.NewRecord(),
		Status:    types.RunPending,
		Progress:  0,
		CreatedAt: time.Now(),
		logw:      logw,
	}, nil
}

// Logf writes one line of stage output. Output is captured per run so the
// single-stage debug entry point can return it verbatim.
func (r *Run) Logf(format string, args ...any) {
	fmt.Fprintf(r.logw, format+"\n", args...)
}

// SetLogWriter redirects stage output, returning the previous writer.
func (r *Run) SetLogWriter(w io.Writer) io.Writer {
	prev := r.logw
	r.logw = w
	return prev
}

// Artifact paths. Every stage output lives at a location derivable purely
// from the run identity, which is what lets stages chain without talking to
// each other directly.

// FileTreePath is the structure stage's artifact.
func (r *Run) FileTreePath() string { return filepath.Join(r.DataDir, "file_tree.json") }

// SelectionPath is the select stage's artifact.
func (r *Run) SelectionPath() string { return filepath.Join(r.DataDir, "vuln_files_selection.json") }

// MetadataPath is the metadata stage's artifact.
func (r *Run) MetadataPath() string { return filepath.Join(r.DataDir, "vuln_file_metadata.json") }

// SubsetsPath is the subsets stage's artifact.
func (r *Run) SubsetsPath() string { return filepath.Join(r.DataDir, "file_subsets.json") }

// SuggestionsPath is the suggest stage's artifact.
func (r *Run) SuggestionsPath() string {
	return filepath.Join(r.DataDir, "subset_pipeline_suggestions.json")
}

// OutputsDir holds the analyze stage's per-subset raw outputs.
func (r *Run) OutputsDir() string { return filepath.Join(r.DataDir, "pipeline_outputs") }

// FindingsPath is the aggregated result written at run completion.
func (r *Run) FindingsPath() string {
	return filepath.Join(r.OutputsDir(), "run_summary.json")
}
