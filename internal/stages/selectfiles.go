package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/stage"
)

// excludePattern drops tests, docs, assets, and lockfiles before anything
// reaches the shortlist prompt.
var excludePattern = regexp.MustCompile(
	`(?i)(\.test\.|\.spec\.|\.mock\.|/tests?/|/__tests__/|README|LICENSE|` +
		`\.md$|\.png$|\.jpg$|\.jpeg$|\.gif$|\.svg$|\.ico$|\.lock$|` +
		`yarn\.lock|package-lock\.json|\.map$|\.snap$|\.log$|/fixtures?/|` +
		`\.sample\.|\.css$|\.scss$|\.less$)`)

// selection is the artifact consumed by the metadata stage.
type selection struct {
	FilesToAnalyze []string `json:"files_to_analyze"`
}

// SelectStage shortlists the files worth deep analysis: a regex pre-filter
// strips obvious noise, then the model picks the security-relevant paths.
// A malformed model response falls back to the full filtered list instead
// of failing the run.
type SelectStage struct {
	client    *ai.Client
	limit     int
	fastModel string
}

func (s *SelectStage) Name() string    { return StageSelect }
func (s *SelectStage) Checkpoint() int { return checkpointSelect }

func (s *SelectStage) Execute(ctx context.Context, run *stage.Run) error {
	var tree map[string]any
	if err := readJSONFile(run.FileTreePath(), &tree); err != nil {
		return err
	}

	var all []string
	flattenTree(tree, "", &all)
	run.Logf("collected %d paths from file tree", len(all))

	filtered := make([]string, 0, len(all))
	for _, p := range all {
		if !excludePattern.MatchString("/" + p) {
			filtered = append(filtered, p)
		}
	}
	run.Logf("kept %d/%d files after regex exclusions", len(filtered), len(all))
	if len(filtered) == 0 {
		return fmt.Errorf("no candidate files left after filtering")
	}

	selected := s.shortlist(ctx, run, filtered)

	run.Units.SetUnits(StageMetadata, len(selected))

	if err := writeJSONFile(run.SelectionPath(), selection{FilesToAnalyze: selected}); err != nil {
		return err
	}
	run.Logf("written selection with %d files to %s", len(selected), run.SelectionPath())
	return nil
}

// shortlist asks the model to pick the risky paths. limit caps how many
// paths go into the prompt; the remainder is mentioned by count only.
func (s *SelectStage) shortlist(ctx context.Context, run *stage.Run, files []string) []string {
	limit := s.limit
	if limit <= 0 {
		limit = 30
	}
	head := files
	if len(head) > limit {
		head = files[:limit]
	}
	fileBlock := strings.Join(head, "\n")
	if rest := len(files) - len(head); rest > 0 {
		fileBlock += fmt.Sprintf("\n... and %d more files", rest)
	}

	prompt := "Review the list of file paths below and select ONLY those likely to hold " +
		"vulnerabilities or security-relevant configuration.\n\n" +
		"Guidelines:\n" +
		"1. INCLUDE: backend controllers, route handlers, services, DB models, authentication logic, env loaders, shell scripts, custom middleware.\n" +
		"2. EXCLUDE: static assets, generated code, test files, docs, build artifacts.\n" +
		"3. Return only paths from the provided list, reproduced exactly.\n" +
		"4. OUTPUT: a JSON array of strings and nothing else. No code fences.\n\n" +
		"FILES TO REVIEW:\n" + fileBlock

	resp, err := s.client.Complete(ctx, s.fastModel, "You are a senior security auditor.", prompt, 1024)
	if err != nil {
		run.Logf("shortlist call failed, proceeding with unfiltered list: %v", err)
		return files
	}

	selected, err := ai.ParseJSON[[]string](resp)
	if err != nil {
		run.Logf("shortlist response discarded, proceeding with unfiltered list: %v", err)
		return files
	}

	// Only keep paths that actually exist in the candidate set.
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f] = true
	}
	kept := make([]string, 0, len(selected))
	for _, p := range selected {
		if known[p] {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		run.Logf("shortlist selected no known paths, proceeding with unfiltered list")
		return files
	}
	run.Logf("shortlist selected %d of %d files", len(kept), len(files))
	return kept
}
