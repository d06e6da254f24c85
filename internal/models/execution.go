package models

import "time"

// EvaluationResult is the verdict for one iteration. Feedback is always set
// when Success is false.
type EvaluationResult struct {
	Success  bool
	Feedback string
	Source   string
}

// ExecutionOutcome is what the validation command produced. ExitCode is nil
// when the command timed out or never started.
type ExecutionOutcome struct {
	Output   string
	TimedOut bool
	ExitCode *int
	Duration time.Duration
}

type IterationRecord struct {
	Index               int
	PromptSent          string
	ExecutionOutput     string
	Verdict             EvaluationResult
	GenerationSucceeded bool
	Outcome             *ExecutionOutcome
	StartedAt           time.Time
	Duration            time.Duration
}
