package stage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xploytlabs/xployt/internal/types"
)

func TestNewRun(t *testing.T) {
	root := t.TempDir()
	outputRoot := t.TempDir()

	run, err := NewRun("myrepo", root, outputRoot, nil)
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	if run.ID == "" {
		t.Error("run must get a generated id")
	}
	if run.Status != types.RunPending {
		t.Errorf("new run status = %s, want pending", run.Status)
	}
	if run.Progress != 0 {
		t.Errorf("new run progress = %d, want 0", run.Progress)
	}
	if run.Units == nil {
		t.Fatal("run must carry a fresh unit record")
	}

	wantDir := filepath.Join(outputRoot, "myrepo_data")
	if run.DataDir != wantDir {
		t.Errorf("DataDir = %q, want %q", run.DataDir, wantDir)
	}
	if _, err := os.Stat(run.OutputsDir()); err != nil {
		t.Errorf("outputs directory not created: %v", err)
	}
}

func TestNewRunValidation(t *testing.T) {
	root := t.TempDir()

	if _, err := NewRun("", root, t.TempDir(), nil); err == nil {
		t.Error("expected error for empty repo id")
	}
	if _, err := NewRun("r", filepath.Join(root, "missing"), t.TempDir(), nil); err == nil {
		t.Error("expected error for nonexistent target root")
	}

	file := filepath.Join(root, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRun("r", file, t.TempDir(), nil); err == nil {
		t.Error("expected error when target root is a file")
	}
}

func TestRunArtifactPaths(t *testing.T) {
	run, err := NewRun("app", t.TempDir(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	tests := []struct {
		got  string
		want string
	}{
		{run.FileTreePath(), "file_tree.json"},
		{run.SelectionPath(), "vuln_files_selection.json"},
		{run.MetadataPath(), "vuln_file_metadata.json"},
		{run.SubsetsPath(), "file_subsets.json"},
		{run.SuggestionsPath(), "subset_pipeline_suggestions.json"},
	}
	for _, tt := range tests {
		if filepath.Base(tt.got) != tt.want {
			t.Errorf("artifact path %q, want basename %q", tt.got, tt.want)
		}
		if !strings.HasPrefix(tt.got, run.DataDir) {
			t.Errorf("artifact %q escapes the run data dir", tt.got)
		}
	}

	if filepath.Dir(run.FindingsPath()) != run.OutputsDir() {
		t.Errorf("findings path %q must live in the outputs dir", run.FindingsPath())
	}
}

func TestRunLogCapture(t *testing.T) {
	var buf bytes.Buffer
	run, err := NewRun("app", t.TempDir(), t.TempDir(), &buf)
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	run.Logf("processed %d files", 3)
	if got := buf.String(); got != "processed 3 files\n" {
		t.Errorf("captured log = %q", got)
	}

	var other bytes.Buffer
	prev := run.SetLogWriter(&other)
	if prev != &buf {
		t.Error("SetLogWriter must return the previous writer")
	}
	run.Logf("redirected")
	if !strings.Contains(other.String(), "redirected") {
		t.Error("log output did not follow the new writer")
	}
}
