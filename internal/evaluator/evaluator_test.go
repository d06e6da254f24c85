package evaluator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylan-isaac/dotfiles-sub000/internal/judge/mock"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	"github.com/dylan-isaac/dotfiles-sub000/internal/workspace"
)

func newSpec(t *testing.T) *models.WorkflowSpec {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte("def add(a, b):\n    return a + b\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "test_calc.py"), []byte("assert add(1, 2) == 3\n"), 0644))
	return &models.WorkflowSpec{
		Root:             root,
		TaskPrompt:       "Implement add.",
		JudgeModel:       "judge-model",
		ExecutionCommand: "python test_calc.py",
		EditablePaths:    []string{"calc.py"},
		ReadOnlyPaths:    []string{"test_calc.py"},
		Evaluator:        models.EvaluatorJudgment,
		JudgeTimeout:     time.Second,
	}
}

func TestNew_SelectsStrategy(t *testing.T) {
	spec := newSpec(t)

	e, err := New(spec, mock.New())
	require.NoError(t, err)
	assert.IsType(t, &Judgment{}, e)

	_, err = New(spec, nil)
	assert.Error(t, err, "judgment needs a judge")

	spec.Evaluator = models.EvaluatorUnitTestPattern
	e, err = New(spec, nil)
	require.NoError(t, err)
	assert.IsType(t, UnitTest{}, e)

	spec.Evaluator = models.EvaluatorPytestPattern
	e, err = New(spec, nil)
	require.NoError(t, err)
	assert.IsType(t, Pytest{}, e)

	spec.Evaluator = "jest"
	_, err = New(spec, nil)
	assert.Error(t, err)
}

func TestNew_Script(t *testing.T) {
	spec := newSpec(t)
	spec.Evaluator = models.EvaluatorScript
	spec.EvaluatorScript = filepath.Join(spec.Root, "eval.lua")

	_, err := New(spec, nil)
	assert.Error(t, err, "missing script")

	require.NoError(t, os.WriteFile(spec.EvaluatorScript, []byte(`function evaluate(o, t) return o == "ok", "want ok" end`), 0644))
	e, err := New(spec, nil)
	require.NoError(t, err)

	assert.Equal(t, models.EvaluationResult{Success: true, Feedback: "want ok", Source: SourceScript},
		e.Evaluate(context.Background(), spec, "ok"))
	assert.Equal(t, models.EvaluationResult{Success: false, Feedback: "want ok", Source: SourceScript},
		e.Evaluate(context.Background(), spec, "nope"))
}

func TestScript_ErrorBecomesFailure(t *testing.T) {
	spec := newSpec(t)
	spec.Evaluator = models.EvaluatorScript
	spec.EvaluatorScript = filepath.Join(spec.Root, "eval.lua")
	require.NoError(t, os.WriteFile(spec.EvaluatorScript, []byte(`function evaluate(o, t) error("broken") end`), 0644))

	e, err := New(spec, nil)
	require.NoError(t, err)

	got := e.Evaluate(context.Background(), spec, "")
	assert.False(t, got.Success)
	assert.Contains(t, got.Feedback, "broken")
}

func TestScript_FailureWithoutFeedback(t *testing.T) {
	spec := newSpec(t)
	spec.Evaluator = models.EvaluatorScript
	spec.EvaluatorScript = filepath.Join(spec.Root, "eval.lua")
	require.NoError(t, os.WriteFile(spec.EvaluatorScript, []byte(`function evaluate(o, t) return false end`), 0644))

	e, err := New(spec, nil)
	require.NoError(t, err)

	got := e.Evaluate(context.Background(), spec, "")
	assert.False(t, got.Success)
	assert.NotEmpty(t, got.Feedback)
}

func TestJudgment_UsesJudgeVerdict(t *testing.T) {
	spec := newSpec(t)
	j := mock.New("```json\n{\"success\": false, \"feedback\": \"add subtracts\"}\n```")

	got := NewJudgment(j).Evaluate(context.Background(), spec, "AssertionError")

	assert.Equal(t, models.EvaluationResult{Success: false, Feedback: "add subtracts", Source: SourceJudgment}, got)

	calls := j.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "judge-model", calls[0].Model)
	assert.Contains(t, calls[0].Prompt, "Implement add.")
	assert.Contains(t, calls[0].Prompt, "python test_calc.py")
	assert.Contains(t, calls[0].Prompt, "AssertionError")
	assert.Contains(t, calls[0].Prompt, "def add(a, b):")
	assert.Contains(t, calls[0].Prompt, "## test_calc.py (read-only)")
}

func TestJudgment_FallbackOnUnparseableReply(t *testing.T) {
	spec := newSpec(t)

	got := NewJudgment(mock.New("I think it works!")).Evaluate(context.Background(), spec, "all good")
	assert.Equal(t, models.EvaluationResult{Success: true, Feedback: noObviousErrors, Source: SourceFallback}, got)

	got = NewJudgment(mock.New("???")).Evaluate(context.Background(), spec, "Test FAILED")
	assert.Equal(t, models.EvaluationResult{Success: false, Feedback: "Test FAILED", Source: SourceFallback}, got)
}

func TestJudgment_FallbackOnJudgeError(t *testing.T) {
	j := mock.New()
	j.Err = errors.New("connection refused")

	got := NewJudgment(j).Evaluate(context.Background(), newSpec(t), "panic: runtime error")
	assert.False(t, got.Success)
	assert.Equal(t, "panic: runtime error", got.Feedback)
	assert.Equal(t, SourceFallback, got.Source)
}

func TestJudgment_TimeoutFallsBack(t *testing.T) {
	spec := newSpec(t)
	spec.JudgeTimeout = 20 * time.Millisecond

	j := mock.New()
	j.Handler = func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	got := NewJudgment(j).Evaluate(context.Background(), spec, "done")
	assert.True(t, got.Success)
	assert.Equal(t, SourceFallback, got.Source)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  models.EvaluationResult
		ok    bool
	}{
		{"bare object", `{"success": true, "feedback": "fine"}`, models.EvaluationResult{Success: true, Feedback: "fine", Source: SourceJudgment}, true},
		{"fenced", "Here you go:\n```json\n{\"success\": true}\n```", models.EvaluationResult{Success: true, Source: SourceJudgment}, true},
		{"plain fence", "```\n{\"success\": false, \"feedback\": \"x\"}\n```", models.EvaluationResult{Success: false, Feedback: "x", Source: SourceJudgment}, true},
		{"with prose", `Verdict: {"success": false, "feedback": "missing edge case"} thanks`, models.EvaluationResult{Success: false, Feedback: "missing edge case", Source: SourceJudgment}, true},
		{"no object", "looks good to me", models.EvaluationResult{}, false},
		{"missing success", `{"feedback": "hmm"}`, models.EvaluationResult{}, false},
		{"success not bool", `{"success": "yes"}`, models.EvaluationResult{}, false},
		{"broken json", `{"success": true,`, models.EvaluationResult{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVerdict(tt.reply)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVerdict_FailureAlwaysHasFeedback(t *testing.T) {
	got, ok := ParseVerdict(`{"success": false}`)
	require.True(t, ok)
	assert.False(t, got.Success)
	assert.NotEmpty(t, got.Feedback)
}

func TestHeuristic_Deterministic(t *testing.T) {
	outputs := []string{"", "ok", "ERROR: Execution timed out after 300 seconds", "1 test Failed", "all fine"}
	for _, out := range outputs {
		assert.Equal(t, Heuristic(out), Heuristic(out), out)
	}

	assert.False(t, Heuristic("Something went wrong: error").Success)
	assert.False(t, Heuristic("FAIL: test_add").Success)
	assert.True(t, Heuristic("3 passed").Success)
}

func TestReviewPrompt_UnreadableFile(t *testing.T) {
	spec := newSpec(t)
	files := []workspace.File{{Path: "gone.py", Editable: true, Err: errors.New("no such file")}}

	p := ReviewPrompt(spec, "out", files)
	assert.Contains(t, p, "## gone.py (editable)")
	assert.Contains(t, p, "unavailable: no such file")
}

func TestUnitTest(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		success bool
		prefix  string
	}{
		{"ok", "...\n----------------------------------------------------------------------\nRan 3 tests in 0.001s\n\nOK\n", true, "All tests passed"},
		{"ok skipped", "Ran 3 tests in 0.001s\n\nOK (skipped=1)\n", true, "All tests passed"},
		{"failed", "Ran 3 tests in 0.001s\n\nFAILED (failures=1)\n", false, "Tests failed"},
		{"traceback wins over OK", "Traceback (most recent call last):\nOK\n", false, "Tests failed"},
		{"timeout", "ERROR: Execution timed out after 300 seconds", false, "Tests failed"},
		{"import error", "ModuleNotFoundError: No module named 'calc'", false, "Tests failed"},
		{"unknown", "Ran 0 tests", false, "Could not determine"},
		{"OK inside a word", "BROKEN\n", false, "Could not determine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnitTest{}.Evaluate(context.Background(), nil, tt.output)
			assert.Equal(t, tt.success, got.Success)
			assert.Contains(t, got.Feedback, tt.prefix)
			assert.Equal(t, SourceUnitTest, got.Source)
			if !tt.success {
				assert.Contains(t, got.Feedback, tt.output)
			}
		})
	}
}

func TestPytest(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		success bool
		prefix  string
	}{
		{"passed", "============ 4 passed in 0.02s ============\n", true, "All tests passed"},
		{"failed", "==== FAILURES ====\nFAILED test_calc.py::test_add - assert 3 == 4\n==== 1 failed, 3 passed in 0.05s ====\n", false, "Tests failed"},
		{"errors", "==== 2 errors in 0.10s ====\n", false, "Tests failed"},
		{"single error", "==== 1 error in 0.10s ====\n", false, "Tests failed"},
		{"collection error", "ERROR collecting test_calc.py\n", false, "Tests failed"},
		{"timeout", "ERROR: Execution timed out after 300 seconds", false, "Tests failed"},
		{"no tests", "==== no tests ran in 0.01s ====\n", false, "No tests ran"},
		{"unknown", "command not found: pytest", false, "Could not determine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pytest{}.Evaluate(context.Background(), nil, tt.output)
			assert.Equal(t, tt.success, got.Success)
			assert.Contains(t, got.Feedback, tt.prefix)
			assert.Equal(t, SourcePytest, got.Source)
		})
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	got := truncate("ab✓✓✓", 4)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ab...", got)
}
