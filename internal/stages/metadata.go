package stages

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xploytlabs/xployt/internal/ai"
	"github.com/xploytlabs/xployt/internal/stage"
)

// fileMeta is one entry in vuln_file_metadata.json, keyed by relative path.
type fileMeta struct {
	Kind          string   `json:"kind"`
	Side          string   `json:"side"`
	Language      string   `json:"language"`
	LOC           int      `json:"loc"`
	Imports       []string `json:"imports"`
	Description   string   `json:"description"`
	SHA1          string   `json:"sha1"`
	TokenEstimate int      `json:"token_estimate"`
}

var extToLang = map[string]string{
	".js": "js", ".jsx": "jsx", ".ts": "ts", ".tsx": "tsx",
	".py": "python", ".go": "go", ".rb": "ruby", ".php": "php",
	".java": "java", ".json": "json", ".yml": "yaml", ".yaml": "yaml",
	".html": "html", ".css": "css", ".sh": "shell",
}

var importRegex = regexp.MustCompile(`^(?:import|from|require)\s+["']?([\w./@-]+)`)

// Rough chars-per-token approximation, good enough for prompt budgeting.
const charsPerToken = 4

// MetadataStage enriches every shortlisted file with a hash, language, line
// count, imports, and an LLM summary. It is incremental: files whose hash
// matches a previous run keep their summary, so re-scans only pay for what
// changed. This is the first unit-counted stage; one unit per file.
type MetadataStage struct {
	client    *ai.Client
	maxFiles  int
	fastModel string
}

func (s *MetadataStage) Name() string    { return StageMetadata }
func (s *MetadataStage) Checkpoint() int { return checkpointMetadata }

// UnitCount reports one unit per file to summarize, once the count is known.
func (s *MetadataStage) UnitCount(run *stage.Run) int {
	n, _ := run.Units.Units(StageMetadata)
	return n
}

func (s *MetadataStage) Execute(ctx context.Context, run *stage.Run) error {
	var sel selection
	if err := readJSONFile(run.SelectionPath(), &sel); err != nil {
		return err
	}

	paths := expandSelection(run.Root, sel.FilesToAnalyze)
	if s.maxFiles > 0 && len(paths) > s.maxFiles {
		run.Logf("limiting metadata to first %d of %d files", s.maxFiles, len(paths))
		paths = paths[:s.maxFiles]
	}

	// Publish the distinct file count for progress interpolation.
	run.Units.SetUnits(StageMetadata, len(paths))

	existing := make(map[string]fileMeta)
	if _, err := os.Stat(run.MetadataPath()); err == nil {
		if err := readJSONFile(run.MetadataPath(), &existing); err != nil {
			run.Logf("ignoring unreadable previous metadata: %v", err)
			existing = make(map[string]fileMeta)
		}
	}

	for _, rel := range paths {
		full := filepath.Join(run.Root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			run.Logf("path missing or not a file: %s", rel)
			continue
		}

		sum, err := sha1File(full)
		if err != nil {
			run.Logf("failed to hash %s: %v", rel, err)
			continue
		}

		prev, known := existing[rel]
		var description string
		var imports []string
		if known && prev.SHA1 == sum && prev.Description != "" {
			run.Logf("skipping %s (no changes detected)", rel)
			description = prev.Description
			imports = prev.Imports
		} else {
			description, imports = s.summarize(ctx, run, full)
		}

		contents, err := os.ReadFile(full)
		if err != nil {
			run.Logf("failed to read %s: %v", rel, err)
			continue
		}

		existing[rel] = fileMeta{
			Kind:          "file",
			Side:          detectSide(rel),
			Language:      detectLanguage(rel),
			LOC:           strings.Count(string(contents), "\n") + 1,
			Imports:       imports,
			Description:   description,
			SHA1:          sum,
			TokenEstimate: len(contents)/charsPerToken + 1,
		}
		run.Logf("processed %s", rel)
	}

	if err := writeJSONFile(run.MetadataPath(), existing); err != nil {
		return err
	}
	run.Logf("metadata written to %s (total %d entries)", run.MetadataPath(), len(existing))
	return nil
}

// summarize asks the model for a short security-focused summary plus the
// file's imports. On a malformed response it falls back to regex-extracted
// imports and an empty summary; the stage never fails over one file.
func (s *MetadataStage) summarize(ctx context.Context, run *stage.Run, path string) (string, []string) {
	code := readHead(path, 4000)

	prompt := "Given the following source code, produce a concise 2-3 sentence summary " +
		"highlighting what the file does and any security-critical behaviour. Also extract " +
		"the modules/packages the file explicitly imports.\n" +
		"Return STRICTLY a JSON object with keys 'summary' (string) and 'imports' (array of strings).\n\nCode:\n```\n" +
		code + "\n```"

	resp, err := s.client.Complete(ctx, s.fastModel, "You are a senior software security engineer.", prompt, 400)
	if err != nil {
		run.Logf("summary call failed for %s: %v", path, err)
		return "", extractImports(path)
	}

	parsed, err := ai.ParseJSON[struct {
		Summary string   `json:"summary"`
		Imports []string `json:"imports"`
	}](resp)
	if err != nil {
		run.Logf("summary response discarded for %s: %v", path, err)
		return "", extractImports(path)
	}
	return parsed.Summary, parsed.Imports
}

// expandSelection turns selection entries into a deduplicated list of
// relative file paths, expanding any directories recursively.
func expandSelection(root string, raw []string) []string {
	var paths []string
	for _, p := range raw {
		rel := strings.TrimLeft(filepath.ToSlash(p), "/")
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err == nil && info.IsDir() {
			_ = filepath.Walk(full, func(child string, fi os.FileInfo, err error) error {
				if err != nil || fi.IsDir() {
					return nil
				}
				if r, err := filepath.Rel(root, child); err == nil {
					paths = append(paths, filepath.ToSlash(r))
				}
				return nil
			})
			continue
		}
		paths = append(paths, rel)
	}

	seen := make(map[string]bool, len(paths))
	dedup := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			dedup = append(dedup, p)
		}
	}
	return dedup
}

func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// detectSide guesses which half of the app a path belongs to.
func detectSide(rel string) string {
	p := "/" + strings.ToLower(rel) + "/"
	switch {
	case strings.Contains(p, "/backend/"), strings.Contains(p, "/server/"), strings.Contains(p, "/api/"):
		return "backend"
	case strings.Contains(p, "/frontend/"), strings.Contains(p, "/client/"), strings.Contains(p, "/web/"):
		return "frontend"
	}
	return "unknown"
}

func detectLanguage(rel string) string {
	ext := strings.ToLower(filepath.Ext(rel))
	if lang, ok := extToLang[ext]; ok {
		return lang
	}
	return strings.TrimPrefix(ext, ".")
}

// extractImports scans the first 100 lines for import statements.
func extractImports(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var imports []string
	for i, line := range strings.Split(string(data), "\n") {
		if i >= 100 {
			break
		}
		if m := importRegex.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			imports = append(imports, m[1])
		}
	}
	return imports
}

// readHead returns up to n bytes of a file, tolerating unreadable files.
func readHead(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ""
	}
	return string(buf[:read])
}
