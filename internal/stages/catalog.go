package stages

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed pipelines.yaml
var catalogYAML []byte

// PromptStep is one LLM call within an analysis pipeline. When
// InjectPrevious is set, the previous step's output is appended to the
// prompt before the subset's code.
type PromptStep struct {
	Name           string `yaml:"name"`
	Prompt         string `yaml:"prompt"`
	InjectPrevious bool   `yaml:"inject_previous"`
}

// Pipeline is a named sequence of prompt steps targeting a vulnerability
// class. The final step of every pipeline must request the findings report.
type Pipeline struct {
	ID          string       `yaml:"pipeline_id"`
	Description string       `yaml:"description"`
	Targets     []string     `yaml:"target_vulnerabilities"`
	Steps       []PromptStep `yaml:"steps"`
}

// Catalog is the bundled set of analysis pipelines the suggest stage picks
// from. It ships embedded in the binary; there is no runtime discovery.
type Catalog struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

// LoadCatalog parses the embedded pipeline catalog.
func LoadCatalog() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline catalog: %w", err)
	}
	if len(c.Pipelines) == 0 {
		return nil, fmt.Errorf("pipeline catalog is empty")
	}
	for _, p := range c.Pipelines {
		if p.ID == "" || len(p.Steps) == 0 {
			return nil, fmt.Errorf("pipeline %q is missing an id or steps", p.ID)
		}
	}
	return &c, nil
}

// ByID returns the pipeline with the given id.
func (c *Catalog) ByID(id string) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return Pipeline{}, false
}

// DefaultID is the fallback pipeline when a suggestion cannot be parsed.
func (c *Catalog) DefaultID() string {
	return c.Pipelines[0].ID
}
