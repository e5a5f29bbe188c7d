package stages

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xploytlabs/xployt/internal/stage"
)

func writeFileContent(root, rel, content string) error {
	return os.WriteFile(filepath.Join(root, rel), []byte(content), 0644)
}

func TestConcatSubsetCode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.js"))
	writeFile(t, filepath.Join(root, "src", "b.js"))

	code := concatSubsetCode(root, []string{"src/a.js", "missing.js", "src/b.js"})

	// Headers carry the absolute path so the model can cite it back.
	if !strings.Contains(code, "--- FILE: "+filepath.Join(root, "src", "a.js")+" ---") {
		t.Errorf("missing header for a.js in:\n%s", code)
	}
	if !strings.Contains(code, "src/b.js") {
		t.Error("second file missing from concatenation")
	}
	if strings.Contains(code, "missing.js") {
		t.Error("unreadable file must be skipped silently")
	}
}

func TestConcatSubsetCodeRespectsBudget(t *testing.T) {
	root := t.TempDir()
	big := strings.Repeat("x", maxSubsetCodeChars)
	if err := writeFileContent(root, "big.js", big); err != nil {
		t.Fatal(err)
	}
	if err := writeFileContent(root, "more.js", big); err != nil {
		t.Fatal(err)
	}

	code := concatSubsetCode(root, []string{"big.js", "more.js"})
	if len(code) > maxSubsetCodeChars {
		t.Errorf("concatenated code is %d chars, budget is %d", len(code), maxSubsetCodeChars)
	}
}

func TestHead(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	if got := head(items, 2); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("head = %v", got)
	}
	if got := head(items, 10); !reflect.DeepEqual(got, items) {
		t.Errorf("head with large n = %v", got)
	}
}

func TestSubsetSummary(t *testing.T) {
	meta := map[string]fileMeta{
		"src/auth.js": {Side: "backend", Language: "js", Description: "login handler"},
	}
	subset := subsetDef{
		SubsetID:  "subset-001",
		FilePaths: []string{"src/auth.js"},
		Reason:    "authentication flow",
	}

	got := subsetSummary(subset, meta)
	if !strings.Contains(got, "src/auth.js [backend/js]: login handler") {
		t.Errorf("summary = %q", got)
	}
	if !strings.Contains(got, "Connection: authentication flow") {
		t.Errorf("summary missing the grouping reason: %q", got)
	}
}

func TestSubsetSummaryCapsFileList(t *testing.T) {
	subset := subsetDef{SubsetID: "subset-001"}
	for i := 0; i < 15; i++ {
		subset.FilePaths = append(subset.FilePaths, "f"+string(rune('a'+i))+".js")
	}

	got := subsetSummary(subset, map[string]fileMeta{})
	if !strings.Contains(got, "5 more files omitted") {
		t.Errorf("summary did not cap the file list:\n%s", got)
	}
}

func TestUnitCountsReadTheRunRecord(t *testing.T) {
	run, err := stage.NewRun("app", t.TempDir(), t.TempDir(), io.Discard)
	if err != nil {
		t.Fatalf("NewRun failed: %v", err)
	}

	metaStage := &MetadataStage{}
	analyzeStage := &AnalyzeStage{}

	if n := metaStage.UnitCount(run); n != 0 {
		t.Errorf("metadata unit count before publish = %d", n)
	}
	if n := analyzeStage.UnitCount(run); n != 0 {
		t.Errorf("analyze unit count before publish = %d", n)
	}

	run.Units.SetUnits(StageMetadata, 12)
	run.Units.SetUnits(StageAnalyze, 4)

	if n := metaStage.UnitCount(run); n != 12 {
		t.Errorf("metadata unit count = %d, want 12", n)
	}
	if n := analyzeStage.UnitCount(run); n != 4 {
		t.Errorf("analyze unit count = %d, want 4", n)
	}
}

func TestStageNamesAndCheckpoints(t *testing.T) {
	tests := []struct {
		s          stage.Stage
		name       string
		checkpoint int
	}{
		{&StructureStage{}, StageStructure, 10},
		{&SelectStage{}, StageSelect, 20},
		{&MetadataStage{}, StageMetadata, 30},
		{&SubsetsStage{}, StageSubsets, 40},
		{&SuggestStage{}, StageSuggest, 55},
		{&AnalyzeStage{}, StageAnalyze, 100},
	}
	prev := 0
	for _, tt := range tests {
		if tt.s.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tt.s.Name(), tt.name)
		}
		if tt.s.Checkpoint() != tt.checkpoint {
			t.Errorf("%s Checkpoint() = %d, want %d", tt.name, tt.s.Checkpoint(), tt.checkpoint)
		}
		if tt.s.Checkpoint() <= prev {
			t.Errorf("%s checkpoint %d not strictly increasing", tt.name, tt.s.Checkpoint())
		}
		prev = tt.s.Checkpoint()
	}
}
