package evaluator

import (
	"context"
	"log/slog"

	"github.com/dylan-isaac/dotfiles-sub000/internal/lua"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

// Script delegates the verdict to a Lua evaluate(output, task) function.
type Script struct {
	runtime *lua.Runtime
}

func (e *Script) Evaluate(ctx context.Context, spec *models.WorkflowSpec, output string) models.EvaluationResult {
	ok, feedback, err := e.runtime.Evaluate(ctx, spec, output)
	if err != nil {
		slog.Warn("evaluator script failed", "script", spec.EvaluatorScript, "error", err)
		return failure(SourceScript, "Evaluator script error: "+err.Error())
	}
	if !ok && feedback == "" {
		feedback = "The evaluator script reported failure without feedback."
	}
	return models.EvaluationResult{Success: ok, Feedback: feedback, Source: SourceScript}
}
