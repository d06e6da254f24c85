// Package evaluator turns the output of a validation command into a
// success/failure verdict with feedback for the next attempt.
package evaluator

import (
	"context"
	"fmt"

	"github.com/dylan-isaac/dotfiles-sub000/internal/judge"
	"github.com/dylan-isaac/dotfiles-sub000/internal/lua"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

// Verdict sources recorded on each EvaluationResult.
const (
	SourceJudgment = "judgment"
	SourceFallback = "judgment-fallback"
	SourceUnitTest = "unittest"
	SourcePytest   = "pytest"
	SourceScript   = "lua"
)

// Evaluator decides whether an iteration succeeded. Implementations never
// fail: any internal problem is folded into the returned verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, spec *models.WorkflowSpec, output string) models.EvaluationResult
}

// New picks the strategy named by the spec. j is only used by the judgment
// strategy and may be nil otherwise.
func New(spec *models.WorkflowSpec, j judge.Judge) (Evaluator, error) {
	switch spec.Evaluator {
	case models.EvaluatorJudgment, "":
		if j == nil {
			return nil, fmt.Errorf("judgment evaluator needs a judge backend")
		}
		return NewJudgment(j), nil
	case models.EvaluatorUnitTestPattern:
		return UnitTest{}, nil
	case models.EvaluatorPytestPattern:
		return Pytest{}, nil
	case models.EvaluatorScript:
		rt, err := lua.NewRuntime(spec.EvaluatorScript)
		if err != nil {
			return nil, fmt.Errorf("failed to load evaluator script: %w", err)
		}
		return &Script{runtime: rt}, nil
	default:
		return nil, fmt.Errorf("unknown evaluator %q", spec.Evaluator)
	}
}

func failure(source, feedback string) models.EvaluationResult {
	return models.EvaluationResult{Success: false, Feedback: feedback, Source: source}
}

func success(source, feedback string) models.EvaluationResult {
	return models.EvaluationResult{Success: true, Feedback: feedback, Source: source}
}
