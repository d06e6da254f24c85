package models

import "time"

type TerminalStatus string

const (
	StatusPending   TerminalStatus = "pending"
	StatusSucceeded TerminalStatus = "succeeded"
	StatusFailed    TerminalStatus = "failed"
	StatusAborted   TerminalStatus = "aborted"
)

// IsTerminal reports whether the status ends a session.
func (s TerminalStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// ExitCode maps a terminal status to the process exit code.
func (s TerminalStatus) ExitCode() int {
	switch s {
	case StatusSucceeded:
		return 0
	case StatusAborted:
		return 2
	default:
		return 1
	}
}

// Session is one Director run. The Director builds it up as a value and
// hands it back to the caller once a terminal status is reached.
type Session struct {
	ID                  string
	Spec                *WorkflowSpec
	History             []IterationRecord
	LastExecutionOutput string
	Status              TerminalStatus
	StartedAt           time.Time
	CompletedAt         *time.Time
}

// Last returns the most recent iteration record, if any.
func (s *Session) Last() (IterationRecord, bool) {
	if len(s.History) == 0 {
		return IterationRecord{}, false
	}
	return s.History[len(s.History)-1], true
}

// SessionSummary is the stored view of a session used by list/status
// commands and the browser.
type SessionSummary struct {
	ID               string
	SpecName         string
	SpecPath         string
	TaskPrompt       string
	ExecutionCommand string
	LogPath          string
	MaxIterations    int
	Iterations       int
	Status           TerminalStatus
	CreatedAt        time.Time
	CompletedAt      *time.Time
}
