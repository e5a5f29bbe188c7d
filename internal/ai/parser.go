package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences despite instructions not to. That is
// the only formatting quirk tolerated here: one strict parse, one retry with
// the fence stripped, then the response is malformed and the caller discards
// it. No further string surgery.
var codeFenceRegex = regexp.MustCompile("(?s)^```(?:json|javascript|js)?\\s*\n?(.*?)\n?```\\s*$")

// StripFence removes a single surrounding markdown code fence, if present.
func StripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// ParseJSON decodes an LLM response into T. A failure means the response is
// malformed; the caller logs and discards it rather than failing the run.
func ParseJSON[T any](text string) (T, error) {
	var out T
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}
	stripped := StripFence(trimmed)
	if err := json.Unmarshal([]byte(stripped), &out); err != nil {
		preview := trimmed
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return out, fmt.Errorf("malformed LLM response: %w (response: %s)", err, preview)
	}
	return out, nil
}
