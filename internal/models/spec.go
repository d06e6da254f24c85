package models

import "time"

type EvaluatorKind string

const (
	EvaluatorJudgment        EvaluatorKind = "judgment"
	EvaluatorUnitTestPattern EvaluatorKind = "unittest"
	EvaluatorPytestPattern   EvaluatorKind = "pytest"
	EvaluatorScript          EvaluatorKind = "lua"
)

type FeedbackHistory string

const (
	FeedbackLatest FeedbackHistory = "latest"
	FeedbackFull   FeedbackHistory = "full"
)

// WorkflowSpec is the resolved, read-only configuration for one Director
// session. TaskPrompt always holds literal text; any referenced prompt
// document has already been read by the loader.
type WorkflowSpec struct {
	Name             string
	Path             string // absolute path of the spec file
	Root             string
	TaskPrompt       string
	CodeModel        string
	JudgeModel       string
	MaxIterations    int
	ExecutionCommand string
	EditablePaths    []string
	ReadOnlyPaths    []string
	Evaluator        EvaluatorKind
	EvaluatorScript  string
	LogPath          string

	CodeBackend       string
	JudgeBackend      string
	ExecutionTimeout  time.Duration
	GenerationTimeout time.Duration
	JudgeTimeout      time.Duration
	FeedbackHistory   FeedbackHistory
}

// ContextPaths returns editable paths followed by read-only paths.
func (s *WorkflowSpec) ContextPaths() []string {
	paths := make([]string, 0, len(s.EditablePaths)+len(s.ReadOnlyPaths))
	paths = append(paths, s.EditablePaths...)
	return append(paths, s.ReadOnlyPaths...)
}
