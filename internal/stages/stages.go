// Package stages implements the six analysis stages a scan pipeline runs,
// in registry order: structure, select, metadata, subsets, suggest, analyze.
// Each stage reads its predecessor's artifact from the run data directory
// and writes its own; none of them talk to each other directly.
package stages

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/config"
	"github.com/xploytlabs/xployt/internal/findings"
	"github.com/xploytlabs/xployt/internal/locator"
	"github.com/xploytlabs/xployt/internal/stage"
)

// Stage names double as unit-count keys in the run's progress record.
const (
	StageStructure = "structure"
	StageSelect    = "select"
	StageMetadata  = "metadata"
	StageSubsets   = "subsets"
	StageSuggest   = "suggest"
	StageAnalyze   = "analyze"
)

// Fixed progress checkpoints, strictly increasing across the registry.
const (
	checkpointStructure = 10
	checkpointSelect    = 20
	checkpointMetadata  = 30
	checkpointSubsets   = 40
	checkpointSuggest   = 55
	checkpointAnalyze   = 100
)

// excludeDirs are never descended into when walking a target codebase.
var excludeDirs = map[string]bool{
	"node_modules": true, ".git": true, ".next": true, "dist": true,
	"build": true, "__pycache__": true, ".venv": true, ".idea": true,
	".vscode": true, ".turbo": true, ".husky": true, "coverage": true,
	"vendor": true,
}

// DefaultRegistry builds the fixed stage sequence for scan runs.
func DefaultRegistry(client *ai.Client, cfg *config.Config) (*stage.Registry, error) {
	loc := locator.New()
	if cfg.FuzzyThreshold > 0 {
		loc.Threshold = cfg.FuzzyThreshold
	}
	if cfg.FuzzyMaxWindow > 0 {
		loc.MaxWindow = cfg.FuzzyMaxWindow
	}

	catalog, err := LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline catalog: %w", err)
	}

	return stage.NewRegistry(
		&StructureStage{},
		&SelectStage{client: client, limit: cfg.SelectFilesLimit, fastModel: cfg.FastModel},
		&MetadataStage{client: client, maxFiles: cfg.MetadataMaxFiles, fastModel: cfg.FastModel},
		&SubsetsStage{client: client, model: cfg.Model},
		&SuggestStage{client: client, catalog: catalog, fastModel: cfg.FastModel},
		&AnalyzeStage{
			client:     client,
			model:      cfg.Model,
			catalog:    catalog,
			aggregator: findings.NewAggregator(loc),
		},
	)
}

// readJSONFile loads a stage artifact written by a predecessor.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSONFile persists a stage artifact.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
