package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/stage"
)

// suggestion pairs a subset with the pipelines worth running on it.
type suggestion struct {
	SubsetID           string   `json:"subset_id"`
	SuggestedPipelines []string `json:"suggested_pipelines"`
}

// SuggestStage decides, per subset, which catalog pipelines apply. A
// malformed response falls back to the catalog's default pipeline so one
// flaky answer never sinks the run.
type SuggestStage struct {
	client    *ai.Client
	catalog   *Catalog
	fastModel string
}

func (s *SuggestStage) Name() string    { return StageSuggest }
func (s *SuggestStage) Checkpoint() int { return checkpointSuggest }

func (s *SuggestStage) Execute(ctx context.Context, run *stage.Run) error {
	var subsets []subsetDef
	if err := readJSONFile(run.SubsetsPath(), &subsets); err != nil {
		return err
	}
	meta := make(map[string]fileMeta)
	if err := readJSONFile(run.MetadataPath(), &meta); err != nil {
		return err
	}

	var pipeDesc []string
	for _, p := range s.catalog.Pipelines {
		pipeDesc = append(pipeDesc, fmt.Sprintf("- %s: %s (targets %s)", p.ID, p.Description, strings.Join(p.Targets, ", ")))
	}

	results := make([]suggestion, 0, len(subsets))
	for _, subset := range subsets {
		ids := s.suggestFor(ctx, run, subset, meta, pipeDesc)
		results = append(results, suggestion{SubsetID: subset.SubsetID, SuggestedPipelines: ids})
		run.Logf("%s: %s", subset.SubsetID, strings.Join(ids, ", "))
	}

	if err := writeJSONFile(run.SuggestionsPath(), results); err != nil {
		return err
	}
	run.Logf("suggestions written to %s", run.SuggestionsPath())
	return nil
}

func (s *SuggestStage) suggestFor(ctx context.Context, run *stage.Run, subset subsetDef, meta map[string]fileMeta, pipeDesc []string) []string {
	prompt := fmt.Sprintf(
		"Choose which analysis pipelines from the list below should be applied to this subset of code files. "+
			"Return ONLY a JSON array of pipeline_id strings. No code fences.\n\n"+
			"Available pipelines:\n%s\n\nCode subset:\n%s\n",
		strings.Join(pipeDesc, "\n"), subsetSummary(subset, meta))

	resp, err := s.client.Complete(ctx, s.fastModel, "You are a senior security auditor.", prompt, 200)
	if err != nil {
		run.Logf("suggestion call failed for %s, using default: %v", subset.SubsetID, err)
		return []string{s.catalog.DefaultID()}
	}

	parsed, err := ai.ParseJSON[[]string](resp)
	if err != nil {
		run.Logf("suggestion response discarded for %s, using default: %v", subset.SubsetID, err)
		return []string{s.catalog.DefaultID()}
	}

	// Keep only ids that exist in the catalog.
	var ids []string
	for _, id := range parsed {
		if _, ok := s.catalog.ByID(id); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []string{s.catalog.DefaultID()}
	}
	return ids
}

// subsetSummary renders a compact description of a subset for the prompt,
// capped at ten files to save tokens.
func subsetSummary(subset subsetDef, meta map[string]fileMeta) string {
	var lines []string
	for i, fp := range subset.FilePaths {
		if i >= 10 {
			lines = append(lines, fmt.Sprintf("... %d more files omitted", len(subset.FilePaths)-10))
			break
		}
		m := meta[fp]
		lines = append(lines, fmt.Sprintf("- %s [%s/%s]: %s", fp, m.Side, m.Language, m.Description))
	}
	if subset.Reason != "" {
		lines = append(lines, "Connection: "+subset.Reason)
	}
	return strings.Join(lines, "\n")
}
