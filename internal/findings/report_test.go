package findings

import (
	"testing"

	"github.com/xploytlabs/xployt/internal/types"
)

const sampleReport = `[
  {
    "source_path": "/repo/src/db.js",
    "snippet": "db.query(sql)",
    "description": "query built from user input",
    "category": "SQL Injection",
    "severity": "high",
    "confidence": "HIGH",
    "remediation": "use parameterized queries"
  },
  {
    "source_path": "src/auth.js",
    "snippet": "jwt.verify(token, 'secret')",
    "description": "hardcoded signing secret",
    "category": "Hardcoded Credentials",
    "severity": "Critical",
    "confidence": "medium",
    "remediation": "load the secret from the environment"
  }
]`

func TestParseReport(t *testing.T) {
	list, err := ParseReport(sampleReport, "/repo", nil)
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("parsed %d findings, want 2", len(list))
	}

	if list[0].Severity != types.SeverityHigh {
		t.Errorf("severity %q not normalized to High", list[0].Severity)
	}
	if list[0].Confidence != types.ConfidenceHigh {
		t.Errorf("confidence %q not normalized to High", list[0].Confidence)
	}
	if list[1].Severity != types.SeverityCritical {
		t.Errorf("severity = %q, want Critical", list[1].Severity)
	}

	// Absolute paths pass through; relative ones are joined to the subset root.
	if list[0].SourcePath != "/repo/src/db.js" {
		t.Errorf("absolute path rewritten to %q", list[0].SourcePath)
	}
	if list[1].SourcePath != "/repo/src/auth.js" {
		t.Errorf("relative path resolved to %q, want /repo/src/auth.js", list[1].SourcePath)
	}
}

func TestParseReportFenced(t *testing.T) {
	list, err := ParseReport("```json\n"+sampleReport+"\n```", "/repo", nil)
	if err != nil {
		t.Fatalf("ParseReport failed on fenced input: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("parsed %d findings, want 2", len(list))
	}
}

func TestParseReportSkipsMalformedEntries(t *testing.T) {
	report := `[
	  {"source_path": "", "description": "missing path", "severity": "High", "confidence": "High"},
	  {"source_path": "src/ok.js", "description": "fine", "category": "XSS", "severity": "Low", "confidence": "Low", "remediation": "escape output"}
	]`

	var logged int
	list, err := ParseReport(report, "/repo", func(string, ...any) { logged++ })
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("parsed %d findings, want 1 survivor", len(list))
	}
	if logged == 0 {
		t.Error("expected the skipped entry to be logged")
	}
}

func TestParseReportAllMalformed(t *testing.T) {
	report := `[
	  {"source_path": "", "severity": "High", "confidence": "High"},
	  {"source_path": "a.js", "severity": "Banana", "confidence": "High"}
	]`
	if _, err := ParseReport(report, "/repo", nil); err == nil {
		t.Error("expected an error when every finding is malformed")
	}
}

func TestParseReportInvalidJSON(t *testing.T) {
	if _, err := ParseReport("the model apologises instead of answering", "/repo", nil); err == nil {
		t.Error("expected an error for non-JSON input")
	}
}

func TestParseReportEmptyArray(t *testing.T) {
	list, err := ParseReport("[]", "/repo", nil)
	if err != nil {
		t.Fatalf("ParseReport failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("parsed %d findings from an empty report", len(list))
	}
}
