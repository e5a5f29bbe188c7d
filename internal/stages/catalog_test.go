package stages

import (
	"testing"
)

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if len(c.Pipelines) == 0 {
		t.Fatal("bundled catalog is empty")
	}

	for _, p := range c.Pipelines {
		if p.ID == "" {
			t.Error("pipeline with empty id")
		}
		if len(p.Steps) == 0 {
			t.Errorf("pipeline %s has no steps", p.ID)
		}
		// The last step must produce the findings report the analyze stage
		// parses, so every pipeline ends with a prompt.
		last := p.Steps[len(p.Steps)-1]
		if last.Prompt == "" {
			t.Errorf("pipeline %s final step has no prompt", p.ID)
		}
	}
}

func TestCatalogByID(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}

	first := c.Pipelines[0]
	got, ok := c.ByID(first.ID)
	if !ok || got.ID != first.ID {
		t.Errorf("ByID(%q) = %v, %v", first.ID, got.ID, ok)
	}

	if _, ok := c.ByID("pipeline_nonexistent"); ok {
		t.Error("ByID must miss for unknown ids")
	}

	if c.DefaultID() != first.ID {
		t.Errorf("DefaultID() = %q, want first pipeline %q", c.DefaultID(), first.ID)
	}
}
