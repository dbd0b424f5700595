// Package diag retains the full transcript of every resolution attempt.
// Concise error surfaces carry only a bounded stderr tail; this store is
// where the diagnostics command and the control API point users for the
// whole record.
package diag

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flakenv/flakenv/pkg/types"
)

type Store struct {
	db          *sql.DB
	maxAttempts int
}

func Open(path string, maxAttempts int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("diagnostics path is empty")
	}
	if maxAttempts <= 0 {
		maxAttempts = 50
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir diagnostics dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, maxAttempts: maxAttempts}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS attempts (
			attempt_id TEXT PRIMARY KEY,
			flake_path TEXT NOT NULL,
			started_ns INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			exit_code INTEGER NOT NULL DEFAULT 0,
			variable_count INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_ns);`,
		`CREATE TABLE IF NOT EXISTS transcript (
			attempt_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			stream TEXT NOT NULL,
			line TEXT NOT NULL,
			PRIMARY KEY (attempt_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("diagnostics migrate: %w", err)
		}
	}
	return nil
}

// BeginAttempt records the start of a resolution and prunes attempts
// beyond the retention cap, oldest first, together with their transcripts.
func (s *Store) BeginAttempt(ctx context.Context, attemptID, flakePath string, startedAt time.Time) error {
	if attemptID == "" {
		return fmt.Errorf("attempt missing id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (attempt_id, flake_path, started_ns) VALUES (?, ?, ?)`,
		attemptID, flakePath, startedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return s.prune(ctx)
}

func (s *Store) AppendLine(ctx context.Context, attemptID string, seq int64, stream, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript (attempt_id, seq, stream, line) VALUES (?, ?, ?, ?)`,
		attemptID, seq, stream, line,
	)
	if err != nil {
		return fmt.Errorf("insert transcript line: %w", err)
	}
	return nil
}

func (s *Store) FinishAttempt(ctx context.Context, attemptID, outcome string, exitCode, variableCount int, duration time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts SET outcome = ?, exit_code = ?, variable_count = ?, duration_ms = ? WHERE attempt_id = ?`,
		outcome, exitCode, variableCount, duration.Milliseconds(), attemptID,
	)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("finish attempt: unknown attempt %s", attemptID)
	}
	return nil
}

func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]types.AttemptSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, flake_path, started_ns, duration_ms, exit_code, variable_count, outcome
		 FROM attempts ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []types.AttemptSummary
	for rows.Next() {
		var (
			a         types.AttemptSummary
			startedNs int64
		)
		if err := rows.Scan(&a.AttemptID, &a.FlakePath, &startedNs, &a.DurationMs, &a.ExitCode, &a.VariableCount, &a.Outcome); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = time.Unix(0, startedNs).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Transcript(ctx context.Context, attemptID string) ([]types.TranscriptLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, stream, line FROM transcript WHERE attempt_id = ? ORDER BY seq`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []types.TranscriptLine
	for rows.Next() {
		var l types.TranscriptLine
		if err := rows.Scan(&l.Seq, &l.Stream, &l.Line); err != nil {
			return nil, fmt.Errorf("scan transcript line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transcript WHERE attempt_id IN (
			SELECT attempt_id FROM attempts ORDER BY started_ns DESC LIMIT -1 OFFSET ?
		)`, s.maxAttempts)
	if err != nil {
		return fmt.Errorf("prune transcripts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM attempts WHERE attempt_id IN (
			SELECT attempt_id FROM attempts ORDER BY started_ns DESC LIMIT -1 OFFSET ?
		)`, s.maxAttempts)
	if err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}
