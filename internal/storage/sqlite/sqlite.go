// Package sqlite persists terminal run records and their findings. The live
// run is owned by the orchestrator and streamed to the caller; this store is
// history only, written once when a run reaches a terminal status.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/xploytlabs/xployt/internal/types"
)

// Store is the sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// New opens (and if needed creates) the database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun upserts a terminal run record.
func (s *Store) SaveRun(ctx context.Context, run *types.PipelineRun) error {
	var finished *string
	if run.FinishedAt != nil {
		f := run.FinishedAt.UTC().Format(time.RFC3339)
		finished = &f
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, repo_id, target_root, status, progress, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		run.ID, run.RepoID, run.TargetRoot, string(run.Status), run.Progress,
		run.Error, run.CreatedAt.UTC().Format(time.RFC3339), finished)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveFindings stores a run's resolved findings, preserving their order.
func (s *Store) SaveFindings(ctx context.Context, runID string, list []types.Finding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (run_id, position, source_path, description, category,
			severity, confidence, remediation, line_start, line_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range list {
		lineStart, lineEnd := 0, 0
		if len(f.Line) > 0 {
			lineStart = f.Line[0]
			lineEnd = f.Line[len(f.Line)-1]
		}
		if _, err := stmt.ExecContext(ctx, runID, i, f.SourcePath, f.Description,
			f.Category, string(f.Severity), string(f.Confidence), f.Remediation,
			lineStart, lineEnd); err != nil {
			return fmt.Errorf("failed to insert finding %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	return nil
}

// GetRun loads one run record.
func (s *Store) GetRun(ctx context.Context, id string) (*types.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, target_root, status, progress, error, created_at, finished_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*types.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, target_root, status, progress, error, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListFindings returns a run's findings in the order they were produced.
func (s *Store) ListFindings(ctx context.Context, runID string) ([]types.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_path, description, category, severity, confidence, remediation, line_start, line_end
		FROM findings WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var list []types.Finding
	for rows.Next() {
		var f types.Finding
		var sev, conf string
		var lineStart, lineEnd int
		if err := rows.Scan(&f.SourcePath, &f.Description, &f.Category, &sev, &conf,
			&f.Remediation, &lineStart, &lineEnd); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = types.Severity(sev)
		f.Confidence = types.Confidence(conf)
		f.Line = []int{}
		for n := lineStart; n > 0 && n <= lineEnd; n++ {
			f.Line = append(f.Line, n)
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*types.PipelineRun, error) {
	var run types.PipelineRun
	var status, created string
	var finished sql.NullString
	if err := row.Scan(&run.ID, &run.RepoID, &run.TargetRoot, &status, &run.Progress,
		&run.Error, &created, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found")
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = types.RunStatus(status)
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		run.CreatedAt = t
	}
	if finished.Valid {
		if t, err := time.Parse(time.RFC3339, finished.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}
