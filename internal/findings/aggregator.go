// Package findings turns the raw per-subset analysis output into the final
// resolved finding list: snippets are mapped to line ranges, unresolved
// findings are dropped, and paths are rewritten relative to the scan root.
package findings

import (
	"path/filepath"
	"strings"

	"github.com/xploytlabs/xployt/internal/locator"
	"github.com/xploytlabs/xployt/internal/types"
)

// Logf matches the run-scoped log function stages use.
type Logf func(format string, args ...any)

// Aggregator merges findings from every subset invocation of the analysis
// stage, in the order produced. Duplicates across subsets are kept as-is;
// deduplication is a consumer concern, not ours.
type Aggregator struct {
	loc *locator.Locator
}

// NewAggregator builds an aggregator around the given locator.
func NewAggregator(loc *locator.Locator) *Aggregator {
	return &Aggregator{loc: loc}
}

// Aggregate resolves each finding's snippet to a line range, drops findings
// that stay unresolved, and rewrites surviving source paths relative to
// root using forward slashes. Returns the surviving list and the count
// removed.
func (a *Aggregator) Aggregate(raw []types.Finding, root string, logf Logf) ([]types.Finding, int) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	out := make([]types.Finding, 0, len(raw))
	removed := 0
	for _, f := range raw {
		if len(f.Line) == 0 && f.Snippet != "" {
			lines, ok, err := a.loc.LocateInFile(f.SourcePath, f.Snippet)
			if err != nil {
				logf("locator: %v", err)
			} else if ok {
				f.Line = lines
			}
		}
		if !f.Resolved() {
			removed++
			continue
		}
		f.SourcePath = relativize(f.SourcePath, root)
		out = append(out, f)
	}
	if removed > 0 {
		logf("%d removed (no line match)", removed)
	}
	return out, removed
}

// relativize rewrites an absolute path to a forward-slash path relative to
// the scan root. Paths outside the root are left as-is apart from slash
// normalization.
func relativize(path, root string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
