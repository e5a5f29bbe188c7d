package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/findings"
	"github.com/xploytlabs/xployt/internal/stage"
	"github.com/xploytlabs/xployt/internal/types"
)

// maxSubsetCodeChars caps how much concatenated source goes into one
// analysis prompt.
const maxSubsetCodeChars = 8000

// AnalyzeStage runs the suggested analysis pipelines over every subset and
// produces the final finding list. It is the most work-variable stage: one
// unit per subset, spread over however many subsets the grouping produced.
// Raw findings pass through the locator and aggregator before being written
// to the run summary the orchestrator reads at completion.
type AnalyzeStage struct {
	client     *ai.Client
	model      string
	catalog    *Catalog
	aggregator *findings.Aggregator
}

func (s *AnalyzeStage) Name() string    { return StageAnalyze }
func (s *AnalyzeStage) Checkpoint() int { return checkpointAnalyze }

// UnitCount reports one unit per subset, published by the subsets stage.
func (s *AnalyzeStage) UnitCount(run *stage.Run) int {
	n, _ := run.Units.Units(StageAnalyze)
	return n
}

func (s *AnalyzeStage) Execute(ctx context.Context, run *stage.Run) error {
	var subsets []subsetDef
	if err := readJSONFile(run.SubsetsPath(), &subsets); err != nil {
		return err
	}
	var suggestions []suggestion
	if err := readJSONFile(run.SuggestionsPath(), &suggestions); err != nil {
		return err
	}

	run.Units.SetUnits(StageAnalyze, len(suggestions))

	byID := make(map[string]subsetDef, len(subsets))
	for _, sub := range subsets {
		byID[sub.SubsetID] = sub
	}

	var collected []types.Finding
	for _, entry := range suggestions {
		subset, ok := byID[entry.SubsetID]
		if !ok {
			run.Logf("suggestion references unknown subset %s, skipping", entry.SubsetID)
			continue
		}
		code := concatSubsetCode(run.Root, subset.FilePaths)
		if code == "" {
			run.Logf("subset %s has no readable files, skipping", subset.SubsetID)
			continue
		}

		for _, pipelineID := range entry.SuggestedPipelines {
			pipeline, ok := s.catalog.ByID(pipelineID)
			if !ok {
				run.Logf("unknown pipeline %s suggested for %s, skipping", pipelineID, subset.SubsetID)
				continue
			}
			run.Logf("running %s on %s (%d files)", pipelineID, subset.SubsetID, len(subset.FilePaths))

			report, err := s.runPipeline(ctx, pipeline, code)
			if err != nil {
				return fmt.Errorf("pipeline %s on %s: %w", pipelineID, subset.SubsetID, err)
			}
			s.saveRawReport(run, subset.SubsetID, pipelineID, report)

			parsed, err := findings.ParseReport(report, run.Root, run.Logf)
			if err != nil {
				// Malformed model output is discarded, not fatal.
				run.Logf("discarding report for %s/%s: %v", subset.SubsetID, pipelineID, err)
				continue
			}
			collected = append(collected, parsed...)
		}
	}

	resolved, removed := s.aggregator.Aggregate(collected, run.Root, run.Logf)
	run.Logf("aggregated %d findings (%d unresolved dropped)", len(resolved), removed)

	if err := writeJSONFile(run.FindingsPath(), resolved); err != nil {
		return err
	}
	run.Logf("aggregated summary written to %s", run.FindingsPath())
	return nil
}

// runPipeline executes a pipeline's prompt steps in order, feeding each
// step's output into the next when the step asks for it. The last step's
// output is the findings report.
func (s *AnalyzeStage) runPipeline(ctx context.Context, pipeline Pipeline, code string) (string, error) {
	var prev string
	for _, step := range pipeline.Steps {
		prompt := step.Prompt
		if step.InjectPrevious && prev != "" {
			prompt += "\n" + prev
		}
		prompt += "\n```\n" + code + "\n```"

		out, err := s.client.Complete(ctx, s.model, "You are a senior security auditor.", prompt, 2048)
		if err != nil {
			return "", fmt.Errorf("step %s: %w", step.Name, err)
		}
		prev = out
	}
	return prev, nil
}

// saveRawReport keeps the unparsed model output next to the other run
// artifacts for manual inspection. Failure to save is logged, not fatal.
func (s *AnalyzeStage) saveRawReport(run *stage.Run, subsetID, pipelineID, report string) {
	name := fmt.Sprintf("%s_%s_report.json", subsetID, pipelineID)
	path := filepath.Join(run.OutputsDir(), name)
	if err := writeJSONFile(path, map[string]string{"content": report}); err != nil {
		run.Logf("failed to save raw report %s: %v", name, err)
		return
	}
	run.Logf("saved %s", name)
}

// concatSubsetCode joins the subset's files with absolute-path headers so
// the model can cite exact source_path values, truncated to the prompt
// budget.
func concatSubsetCode(root string, relPaths []string) string {
	var b strings.Builder
	for _, rel := range relPaths {
		full := filepath.Join(root, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		b.WriteString("--- FILE: " + full + " ---\n")
		b.Write(data)
		b.WriteString("\n\n")
		if b.Len() > maxSubsetCodeChars {
			break
		}
	}
	s := b.String()
	if len(s) > maxSubsetCodeChars {
		s = s[:maxSubsetCodeChars]
	}
	return s
}
