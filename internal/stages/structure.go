package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xploytlabs/xployt/internal/stage"
)

// maxTreeDepth bounds recursion into deeply nested targets.
const maxTreeDepth = 6

// StructureStage walks the target codebase and writes its directory tree to
// file_tree.json. Directories are nested objects; files collect under a
// "__files__" key so the tree stays compact for LLM prompts downstream.
type StructureStage struct{}

func (s *StructureStage) Name() string    { return StageStructure }
func (s *StructureStage) Checkpoint() int { return checkpointStructure }

func (s *StructureStage) Execute(ctx context.Context, run *stage.Run) error {
	tree, err := buildTree(run.Root, 0)
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("file tree for %s is empty", run.Root)
	}
	if err := writeJSONFile(run.FileTreePath(), tree); err != nil {
		return err
	}
	run.Logf("file structure saved to %s", run.FileTreePath())
	return nil
}

// buildTree recurses into dir up to maxTreeDepth levels. Unreadable
// directories are skipped rather than failing the whole walk.
func buildTree(dir string, depth int) (map[string]any, error) {
	if depth > maxTreeDepth {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return nil, fmt.Errorf("failed to read target root: %w", err)
		}
		return nil, nil
	}

	// Stable ordering keeps the artifact diffable between runs.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	tree := make(map[string]any)
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if excludeDirs[name] {
				continue
			}
			child, err := buildTree(filepath.Join(dir, name), depth+1)
			if err != nil {
				return nil, err
			}
			if child != nil {
				tree[name] = child
			}
			continue
		}
		files = append(files, name)
	}
	if len(files) > 0 {
		tree["__files__"] = files
	}
	if len(tree) == 0 {
		return nil, nil
	}
	return tree, nil
}

// flattenTree converts the nested tree into relative forward-slash paths.
func flattenTree(tree map[string]any, prefix string, out *[]string) {
	if files, ok := tree["__files__"].([]string); ok {
		for _, f := range files {
			*out = append(*out, joinSlash(prefix, f))
		}
	}
	// JSON round-trips lose the concrete types, so handle both forms.
	if files, ok := tree["__files__"].([]any); ok {
		for _, f := range files {
			if name, ok := f.(string); ok {
				*out = append(*out, joinSlash(prefix, name))
			}
		}
	}

	keys := make([]string, 0, len(tree))
	for k := range tree {
		if k == "__files__" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if child, ok := tree[k].(map[string]any); ok {
			flattenTree(child, joinSlash(prefix, k), out)
		}
	}
}

func joinSlash(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
