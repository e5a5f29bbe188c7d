package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/stage"
)

// maxFilesPerChunk bounds how many file summaries go into one grouping
// prompt so large codebases do not overflow the context window.
const maxFilesPerChunk = 60

// subsetDef is one functional group of files, the unit the analyze stage
// works through.
type subsetDef struct {
	SubsetID  string   `json:"subset_id"`
	FilePaths []string `json:"file_paths"`
	Reason    string   `json:"reason"`
}

// SubsetsStage groups the shortlisted files into functional subsets
// (end-to-end data flows, auth chains, MVC triples) by prompting the model
// with the metadata summaries, chunk by chunk. The resulting subset count
// is published as the analyze stage's unit count.
type SubsetsStage struct {
	client *ai.Client
	model  string
}

func (s *SubsetsStage) Name() string    { return StageSubsets }
func (s *SubsetsStage) Checkpoint() int { return checkpointSubsets }

func (s *SubsetsStage) Execute(ctx context.Context, run *stage.Run) error {
	meta := make(map[string]fileMeta)
	if err := readJSONFile(run.MetadataPath(), &meta); err != nil {
		return err
	}
	if len(meta) == 0 {
		return fmt.Errorf("metadata artifact is empty")
	}

	// Deterministic prompt ordering.
	paths := make([]string, 0, len(meta))
	for p := range meta {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var all []subsetDef
	for chunk := 0; chunk*maxFilesPerChunk < len(paths); chunk++ {
		lo := chunk * maxFilesPerChunk
		hi := lo + maxFilesPerChunk
		if hi > len(paths) {
			hi = len(paths)
		}
		run.Logf("grouping chunk %d with %d files", chunk+1, hi-lo)

		subsets, err := s.groupChunk(ctx, paths[lo:hi], meta)
		if err != nil {
			return fmt.Errorf("grouping failed on chunk %d: %w", chunk+1, err)
		}
		all = append(all, subsets...)
	}

	// Renumber sequentially across chunks.
	for i := range all {
		all[i].SubsetID = fmt.Sprintf("subset-%03d", i+1)
	}

	run.Units.SetUnits(StageAnalyze, len(all))

	if err := writeJSONFile(run.SubsetsPath(), all); err != nil {
		return err
	}
	run.Logf("wrote %d subsets to %s", len(all), run.SubsetsPath())
	return nil
}

func (s *SubsetsStage) groupChunk(ctx context.Context, paths []string, meta map[string]fileMeta) ([]subsetDef, error) {
	var lines []string
	for _, p := range paths {
		info := meta[p]
		imports := strings.Join(head(info.Imports, 5), ", ")
		if imports != "" {
			lines = append(lines, fmt.Sprintf("- %s [%s/%s]: %s | Imports: %s", p, info.Side, info.Language, info.Description, imports))
		} else {
			lines = append(lines, fmt.Sprintf("- %s [%s/%s]: %s", p, info.Side, info.Language, info.Description))
		}
	}

	prompt := "Group the following files into logical subsets based on their functional connections. Focus on:\n" +
		"1. End-to-end data flows (frontend -> backend -> DB -> response)\n" +
		"2. MVC relationships (controller, model, schema)\n" +
		"3. Shared state, session usage, or token verification\n" +
		"4. Authentication and authorization flows\n" +
		"5. API endpoints and their handlers\n\n" +
		"Guidelines: each subset is a complete functional unit, 5-15 files where possible, " +
		"every file in at least one subset.\n\n" +
		"Return ONLY a JSON array where each element has 'subset_id' (string), " +
		"'file_paths' (array of exact paths from the list), and 'reason' (string). No code fences.\n\n" +
		"Files:\n" + strings.Join(lines, "\n")

	resp, err := s.client.Complete(ctx, s.model, "You are a senior security auditor. Return ONLY valid JSON array output.", prompt, 2048)
	if err != nil {
		return nil, err
	}

	subsets, err := ai.ParseJSON[[]subsetDef](resp)
	if err != nil {
		return nil, err
	}
	if len(subsets) == 0 {
		return nil, fmt.Errorf("grouping response contained no subsets")
	}
	return subsets, nil
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
