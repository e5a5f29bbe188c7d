// Package locator maps a code snippet reported by an analysis stage back to
// concrete line numbers in the scanned file. Upstream stages quote source
// text that may have been re-wrapped, re-indented, or lightly paraphrased,
// so matching is fuzzy: both sides are whitespace-normalized and compared
// with a longest-common-subsequence ratio.
package locator

import (
	"fmt"
	"os"
	"strings"
)

const (
	// DefaultMaxWindow caps how many consecutive lines one snippet may span.
	DefaultMaxWindow = 7
	// DefaultThreshold is the minimum similarity ratio to accept a match.
	DefaultThreshold = 0.6
)

// Locator resolves snippets to line ranges within source files.
type Locator struct {
	// MaxWindow is the largest window size (in lines) searched.
	MaxWindow int
	// Threshold is the minimum ratio in [0,1] a window must reach.
	Threshold float64
}

// New returns a locator with the default window cap and threshold.
func New() *Locator {
	return &Locator{MaxWindow: DefaultMaxWindow, Threshold: DefaultThreshold}
}

// LocateInFile reads path and resolves snippet against its lines.
// The boolean is false when no window scores at or above the threshold.
func (l *Locator) LocateInFile(path, snippet string) ([]int, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")
	r, ok := l.Locate(lines, snippet)
	return r, ok, nil
}

// Locate scans every window of 1..MaxWindow consecutive lines and returns
// the inclusive 1-indexed line range of the single best-scoring window, or
// false when the best ratio is below the threshold. Ties prefer the
// smallest window, then the smallest start line.
//
// Cost is O(MaxWindow * len(lines)) window comparisons, each proportional
// to the snippet length. Fine for source files of ordinary size; callers
// scanning huge generated files should expect this to be slow rather than
// silently truncated here.
func (l *Locator) Locate(lines []string, snippet string) ([]int, bool) {
	needle := normalizeWhitespace(snippet)
	if needle == "" || len(lines) == 0 {
		return nil, false
	}

	maxW := l.MaxWindow
	if maxW < 1 {
		maxW = DefaultMaxWindow
	}
	if maxW > len(lines) {
		maxW = len(lines)
	}

	bestRatio := 0.0
	bestStart, bestW := -1, 0

	needleRunes := []rune(needle)
	for w := 1; w <= maxW; w++ {
		for start := 0; start+w <= len(lines); start++ {
			window := normalizeWhitespace(strings.Join(lines[start:start+w], " "))
			if window == "" {
				continue
			}
			windowRunes := []rune(window)

			// A length mismatch bounds the achievable ratio; skip the DP
			// when even a full subsequence match could not beat the best.
			la, lb := len(needleRunes), len(windowRunes)
			shorter := la
			if lb < la {
				shorter = lb
			}
			if upper := 2 * float64(shorter) / float64(la+lb); upper <= bestRatio {
				continue
			}

			r := lcsRatio(needleRunes, windowRunes)
			if r > bestRatio {
				bestRatio = r
				bestStart = start
				bestW = w
			}
		}
	}

	if bestStart < 0 || bestRatio < l.Threshold {
		return nil, false
	}
	rng := make([]int, bestW)
	for i := range rng {
		rng[i] = bestStart + 1 + i
	}
	return rng, true
}

// normalizeWhitespace collapses every run of whitespace (including
// newlines) to a single space and trims the ends, so indentation and
// wrapping differences do not affect matching.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// lcsRatio returns 2*LCS(a,b)/(len(a)+len(b)): symmetric, in [0,1], and
// exactly 1.0 only when the two strings are identical.
func lcsRatio(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Two-row DP keeps memory proportional to the shorter side.
	if len(b) < len(a) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for i := 1; i <= len(b); i++ {
		for j := 1; j <= len(a); j++ {
			if b[i-1] == a[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(a)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}
