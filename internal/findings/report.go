package findings

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/types"
)

// reportFinding is the wire shape the analysis prompt demands from the
// model. Kept separate from types.Finding so schema drift in the prompt
// never silently changes the public finding schema.
type reportFinding struct {
	SourcePath  string `json:"source_path"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Confidence  string `json:"confidence"`
	Remediation string `json:"remediation"`
}

// ParseReport decodes one subset's analysis response into findings. The
// response is untrusted text: one strict parse with a fence-stripping
// fallback, and entries that fail validation are skipped with a log line
// rather than failing the stage.
func ParseReport(text, subsetRoot string, logf Logf) ([]types.Finding, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	raw, err := ai.ParseJSON[[]reportFinding](text)
	if err != nil {
		return nil, err
	}

	out := make([]types.Finding, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		// Models sometimes echo paths relative to the scan root even when
		// given absolute ones; absolutize so the locator can read the file.
		srcPath := r.SourcePath
		if srcPath != "" && !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(subsetRoot, srcPath)
		}
		f := types.Finding{
			SourcePath:  srcPath,
			Snippet:     r.Snippet,
			Description: r.Description,
			Category:    r.Category,
			Severity:    normalizeSeverity(r.Severity),
			Confidence:  normalizeConfidence(r.Confidence),
			Remediation: r.Remediation,
			Line:        []int{},
		}
		if err := f.Validate(); err != nil {
			skipped++
			logf("skipping malformed finding: %v", err)
			continue
		}
		out = append(out, f)
	}
	if skipped > 0 {
		logf("%d malformed finding(s) discarded", skipped)
	}
	if len(out) == 0 && len(raw) > 0 {
		return nil, fmt.Errorf("all %d findings in report were malformed", len(raw))
	}
	return out, nil
}

// normalizeSeverity maps loosely cased model output onto the enum.
func normalizeSeverity(s string) types.Severity {
	switch {
	case strings.EqualFold(s, "low"):
		return types.SeverityLow
	case strings.EqualFold(s, "medium"):
		return types.SeverityMedium
	case strings.EqualFold(s, "high"):
		return types.SeverityHigh
	case strings.EqualFold(s, "critical"):
		return types.SeverityCritical
	}
	return types.Severity(s)
}

func normalizeConfidence(s string) types.Confidence {
	switch {
	case strings.EqualFold(s, "low"):
		return types.ConfidenceLow
	case strings.EqualFold(s, "medium"):
		return types.ConfidenceMedium
	case strings.EqualFold(s, "high"):
		return types.ConfidenceHigh
	}
	return types.Confidence(s)
}
