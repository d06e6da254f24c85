// Package runlog writes the plain-text audit log of a Director session.
//
// The file is truncated when a session starts and then only appended to.
// Every Log call writes one timestamped entry straight to the file, so the
// log is complete up to the last finished call even if the process dies.
package runlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

const timeFormat = time.RFC3339

type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

// Create truncates (or creates) the log at path and writes the session header.
func Create(path string, session *models.Session) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}

	l := &Log{f: f, path: path, now: time.Now}
	if err := l.writeHeader(session); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) Path() string { return l.path }

func (l *Log) writeHeader(session *models.Session) error {
	var b strings.Builder
	b.WriteString("=== Director Run Log ===\n")
	fmt.Fprintf(&b, "Session: %s\n", session.ID)
	fmt.Fprintf(&b, "Started: %s\n", session.StartedAt.Format(timeFormat))
	if s := session.Spec; s != nil {
		fmt.Fprintf(&b, "Workflow: %s\n", s.Name)
		fmt.Fprintf(&b, "Code model: %s (%s)\n", s.CodeModel, s.CodeBackend)
		fmt.Fprintf(&b, "Judge model: %s (%s)\n", s.JudgeModel, s.JudgeBackend)
		fmt.Fprintf(&b, "Evaluator: %s\n", s.Evaluator)
		fmt.Fprintf(&b, "Max iterations: %d\n", s.MaxIterations)
		fmt.Fprintf(&b, "Execution command: %s\n", s.ExecutionCommand)
		fmt.Fprintf(&b, "Editable: %s\n", strings.Join(s.EditablePaths, ", "))
		fmt.Fprintf(&b, "Read-only: %s\n", strings.Join(s.ReadOnlyPaths, ", "))
	}
	b.WriteString("========================\n\n")

	if _, err := l.f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write run log header: %w", err)
	}
	return nil
}

// Log appends a single timestamped entry.
func (l *Log) Log(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("run log %s is closed", l.path)
	}

	slog.Debug("run log", "entry", msg)

	line := fmt.Sprintf("[%s] %s\n", l.now().Format(timeFormat), strings.TrimRight(msg, "\n"))
	if _, err := l.f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}
	return nil
}

func (l *Log) Logf(format string, args ...any) error {
	return l.Log(fmt.Sprintf(format, args...))
}

// Iteration writes the full record of one finished iteration.
func (l *Log) Iteration(rec models.IterationRecord, maxIterations int) error {
	steps := []string{
		fmt.Sprintf("Iteration %d/%d prompt:\n%s", rec.Index+1, maxIterations, rec.PromptSent),
	}

	if !rec.GenerationSucceeded {
		steps = append(steps, fmt.Sprintf("Iteration %d/%d: code generation failed", rec.Index+1, maxIterations))
	} else {
		status := "completed"
		if rec.Outcome != nil {
			switch {
			case rec.Outcome.TimedOut:
				status = "timed out"
			case rec.Outcome.ExitCode != nil:
				status = fmt.Sprintf("exit code %d", *rec.Outcome.ExitCode)
			}
		}
		steps = append(steps, fmt.Sprintf("Iteration %d/%d execution output (%s):\n%s", rec.Index+1, maxIterations, status, rec.ExecutionOutput))
	}

	verdict := "FAILURE"
	if rec.Verdict.Success {
		verdict = "SUCCESS"
	}
	steps = append(steps, fmt.Sprintf("Iteration %d/%d verdict: %s (%s)\n%s", rec.Index+1, maxIterations, verdict, rec.Verdict.Source, rec.Verdict.Feedback))

	for _, s := range steps {
		if err := l.Log(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
