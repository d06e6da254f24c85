// Package storage keeps a history of Director sessions and their
// iterations in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	_ "modernc.org/sqlite"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrAmbiguousSession = errors.New("session id prefix matches more than one session")
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		spec_name TEXT NOT NULL,
		spec_path TEXT NOT NULL DEFAULT '',
		root TEXT NOT NULL,
		task_prompt TEXT NOT NULL,
		execution_command TEXT NOT NULL,
		log_path TEXT NOT NULL,
		max_iterations INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		iteration INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		generation_succeeded INTEGER NOT NULL,
		execution_output TEXT NOT NULL DEFAULT '',
		exit_code INTEGER,
		timed_out INTEGER NOT NULL DEFAULT 0,
		execution_ms INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		verdict_source TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		UNIQUE(session_id, iteration)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_iterations_session ON iterations(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession stores a new session in its pending state.
func (s *Storage) CreateSession(session *models.Session) error {
	spec := session.Spec
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, created_at, spec_name, spec_path, root, task_prompt, execution_command, log_path, max_iterations, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.StartedAt.UTC(), spec.Name, spec.Path, spec.Root, spec.TaskPrompt,
		spec.ExecutionCommand, spec.LogPath, spec.MaxIterations, string(session.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// RecordIteration appends one iteration to a session.
func (s *Storage) RecordIteration(sessionID string, rec models.IterationRecord) error {
	var (
		exitCode  *int
		timedOut  bool
		execution time.Duration
	)
	if rec.Outcome != nil {
		exitCode = rec.Outcome.ExitCode
		timedOut = rec.Outcome.TimedOut
		execution = rec.Outcome.Duration
	}

	_, err := s.db.Exec(
		`INSERT INTO iterations (session_id, iteration, prompt, generation_succeeded, execution_output, exit_code,
		 timed_out, execution_ms, success, feedback, verdict_source, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Index, rec.PromptSent, rec.GenerationSucceeded, rec.ExecutionOutput, exitCode,
		timedOut, execution.Milliseconds(), rec.Verdict.Success, rec.Verdict.Feedback, rec.Verdict.Source,
		rec.StartedAt.UTC(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record iteration %d: %w", rec.Index, err)
	}
	return nil
}

// CompleteSession stores the terminal status of a session.
func (s *Storage) CompleteSession(session *models.Session) error {
	result, err := s.db.Exec(
		`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`,
		string(session.Status), utc(session.CompletedAt), session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

const summaryColumns = `s.id, s.created_at, s.completed_at, s.spec_name, s.spec_path, s.task_prompt,
	s.execution_command, s.log_path, s.max_iterations, s.status,
	(SELECT COUNT(*) FROM iterations i WHERE i.session_id = s.id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*models.SessionSummary, error) {
	var sum models.SessionSummary
	var completedAt sql.NullTime
	var status string

	err := row.Scan(
		&sum.ID, &sum.CreatedAt, &completedAt, &sum.SpecName, &sum.SpecPath, &sum.TaskPrompt,
		&sum.ExecutionCommand, &sum.LogPath, &sum.MaxIterations, &status, &sum.Iterations,
	)
	if err != nil {
		return nil, err
	}

	sum.Status = models.TerminalStatus(status)
	if completedAt.Valid {
		sum.CompletedAt = &completedAt.Time
	}
	return &sum, nil
}

// GetSession finds a session by id or by a unique id prefix.
func (s *Storage) GetSession(id string) (*models.SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT `+summaryColumns+` FROM sessions s WHERE substr(s.id, 1, length(?)) = ? ORDER BY s.id = ? DESC LIMIT 2`,
		id, id, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	var found []*models.SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		found = append(found, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousSession, id)
	}
}

// ListSessions returns the most recent sessions first.
func (s *Storage) ListSessions(limit int) ([]*models.SessionSummary, error) {
	rows, err := s.db.Query(
		`SELECT `+summaryColumns+` FROM sessions s ORDER BY s.created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SessionSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read session: %w", err)
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// GetIterations returns a session's iterations in index order.
func (s *Storage) GetIterations(sessionID string) ([]models.IterationRecord, error) {
	rows, err := s.db.Query(
		`SELECT iteration, prompt, generation_succeeded, execution_output, exit_code, timed_out, execution_ms,
		 success, feedback, verdict_source, started_at, duration_ms
		 FROM iterations WHERE session_id = ? ORDER BY iteration`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var records []models.IterationRecord
	for rows.Next() {
		var rec models.IterationRecord
		var exitCode sql.NullInt64
		var timedOut bool
		var executionMs, durationMs int64

		err := rows.Scan(
			&rec.Index, &rec.PromptSent, &rec.GenerationSucceeded, &rec.ExecutionOutput, &exitCode, &timedOut,
			&executionMs, &rec.Verdict.Success, &rec.Verdict.Feedback, &rec.Verdict.Source,
			&rec.StartedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to read iteration: %w", err)
		}

		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if rec.GenerationSucceeded {
			rec.Outcome = &models.ExecutionOutcome{
				Output:   rec.ExecutionOutput,
				TimedOut: timedOut,
				Duration: time.Duration(executionMs) * time.Millisecond,
			}
			if exitCode.Valid {
				code := int(exitCode.Int64)
				rec.Outcome.ExitCode = &code
			}
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// DeleteSession removes a session and its iterations.
func (s *Storage) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM iterations WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete iterations: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return tx.Commit()
}

// utc normalizes stored timestamps so they sort correctly as text.
func utc(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// FormatTimeAgo renders a timestamp relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
