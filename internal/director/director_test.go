package director

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylan-isaac/dotfiles-sub000/internal/codegen"
	"github.com/dylan-isaac/dotfiles-sub000/internal/codegen/mock"
	"github.com/dylan-isaac/dotfiles-sub000/internal/evaluator"
	jmock "github.com/dylan-isaac/dotfiles-sub000/internal/judge/mock"
	"github.com/dylan-isaac/dotfiles-sub000/internal/metrics"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	"github.com/dylan-isaac/dotfiles-sub000/internal/runner"
)

// scriptedExecutor returns canned outputs in order, repeating the last one.
type scriptedExecutor struct {
	mu       sync.Mutex
	outputs  []models.ExecutionOutcome
	commands []string
}

func (e *scriptedExecutor) Run(_ context.Context, command string) models.ExecutionOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	i := len(e.commands) - 1
	if i >= len(e.outputs) {
		i = len(e.outputs) - 1
	}
	return e.outputs[i]
}

func outputs(texts ...string) *scriptedExecutor {
	e := &scriptedExecutor{}
	for _, text := range texts {
		e.outputs = append(e.outputs, models.ExecutionOutcome{Output: text})
	}
	return e
}

// memoryStore records calls and can be made to fail.
type memoryStore struct {
	created   []*models.Session
	records   []models.IterationRecord
	completed []models.TerminalStatus
	err       error
}

func (s *memoryStore) CreateSession(session *models.Session) error {
	s.created = append(s.created, session)
	return s.err
}

func (s *memoryStore) RecordIteration(_ string, rec models.IterationRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func (s *memoryStore) CompleteSession(session *models.Session) error {
	s.completed = append(s.completed, session.Status)
	return s.err
}

func newSpec(t *testing.T, maxIterations int) *models.WorkflowSpec {
	t.Helper()
	root := t.TempDir()
	return &models.WorkflowSpec{
		Name:             "add",
		Root:             root,
		TaskPrompt:       "Implement add(a, b).",
		CodeModel:        "sonnet",
		JudgeModel:       "sonnet",
		MaxIterations:    maxIterations,
		ExecutionCommand: "python -m unittest",
		EditablePaths:    []string{"calc.py"},
		ReadOnlyPaths:    []string{"test_calc.py"},
		Evaluator:        models.EvaluatorUnitTestPattern,
		LogPath:          filepath.Join(root, "director.log"),
		FeedbackHistory:  models.FeedbackLatest,
	}
}

const (
	passing = "Ran 1 test in 0.001s\n\nOK\n"
	failing = "Ran 1 test in 0.001s\n\nFAILED (failures=1)\n"
)

func TestRun_ImmediateSuccess(t *testing.T) {
	spec := newSpec(t, 3)
	gen := mock.New()

	session, err := New(gen, outputs(passing), evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSucceeded, session.Status)
	require.Len(t, session.History, 1)
	assert.True(t, session.History[0].Verdict.Success)
	assert.Equal(t, passing, session.LastExecutionOutput)
	require.NotNil(t, session.CompletedAt)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Implement add(a, b).", calls[0].Prompt)
	assert.Equal(t, []string{"calc.py"}, calls[0].Editable)
	assert.Equal(t, []string{"test_calc.py"}, calls[0].ReadOnly)
	assert.Equal(t, "sonnet", calls[0].Model)
}

func TestRun_Exhaustion(t *testing.T) {
	spec := newSpec(t, 2)
	gen := mock.New()
	exec := outputs(failing)

	session, err := New(gen, exec, evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, session.Status)
	require.Len(t, session.History, 2)
	assert.Len(t, gen.Calls(), 2)
	assert.Len(t, exec.commands, 2)

	second := gen.Calls()[1].Prompt
	assert.Contains(t, second, "Implement add(a, b).")
	assert.Contains(t, second, "FAILED (failures=1)")
	assert.Contains(t, second, "1 attempt remaining")
}

// malformedJudge always replies with text that is not a verdict, so every
// judgment goes through the heuristic fallback.
func malformedJudge() *jmock.Judge {
	j := jmock.New()
	j.Default = "not json"
	return j
}

func judgmentSpec(t *testing.T, maxIterations int) *models.WorkflowSpec {
	t.Helper()
	spec := newSpec(t, maxIterations)
	spec.Evaluator = models.EvaluatorJudgment
	spec.ExecutionCommand = "python calc.py"
	return spec
}

func TestRun_JudgmentFallbackImmediateSuccess(t *testing.T) {
	spec := judgmentSpec(t, 3)
	gen := mock.New()
	j := malformedJudge()

	session, err := New(gen, outputs("OK"), evaluator.NewJudgment(j)).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSucceeded, session.Status)
	require.Len(t, session.History, 1)
	rec := session.History[0]
	assert.True(t, rec.GenerationSucceeded)
	assert.True(t, rec.Verdict.Success)
	assert.Equal(t, evaluator.SourceFallback, rec.Verdict.Source)
	assert.Equal(t, "OK", session.LastExecutionOutput)
	assert.Len(t, j.Calls(), 1)
}

func TestRun_JudgmentFallbackExhaustion(t *testing.T) {
	spec := judgmentSpec(t, 3)
	gen := mock.New()
	j := malformedJudge()
	exec := outputs("FAILED")

	session, err := New(gen, exec, evaluator.NewJudgment(j)).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, session.Status)
	require.Len(t, session.History, 3)
	for i, rec := range session.History {
		assert.Equal(t, i, rec.Index)
		assert.True(t, rec.GenerationSucceeded)
		assert.False(t, rec.Verdict.Success, "iteration %d", i)
		assert.Equal(t, evaluator.SourceFallback, rec.Verdict.Source)
		assert.Equal(t, "FAILED", rec.ExecutionOutput)
	}
	assert.Len(t, gen.Calls(), 3)
	assert.Len(t, exec.commands, 3)
	assert.Len(t, j.Calls(), 3)
	assert.Equal(t, "FAILED", session.LastExecutionOutput)
}

func TestRun_GenerationBreakOnFirstPass(t *testing.T) {
	spec := judgmentSpec(t, 5)
	gen := mock.New()
	gen.Handler = func(context.Context, int, codegen.Request) error {
		return errors.New("claude: command not found")
	}
	exec := outputs("OK")
	j := malformedJudge()

	session, err := New(gen, exec, evaluator.NewJudgment(j)).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusAborted, session.Status)
	require.Len(t, session.History, 1)
	rec := session.History[0]
	assert.Equal(t, 0, rec.Index)
	assert.False(t, rec.GenerationSucceeded)
	assert.False(t, rec.Verdict.Success)
	assert.Nil(t, rec.Outcome)
	assert.Len(t, gen.Calls(), 1)
	assert.Empty(t, exec.commands)
	assert.Empty(t, j.Calls())
}

func TestRun_SuccessOnSecondAttempt(t *testing.T) {
	spec := newSpec(t, 5)
	gen := mock.New()

	session, err := New(gen, outputs(failing, passing), evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSucceeded, session.Status)
	assert.Len(t, session.History, 2)
	assert.Len(t, gen.Calls(), 2, "no iterations after success")
}

func TestRun_GenerationBreak(t *testing.T) {
	spec := newSpec(t, 3)
	gen := mock.New()
	gen.Handler = func(_ context.Context, call int, _ codegen.Request) error {
		if call == 1 {
			return errors.New("claude: not logged in")
		}
		return nil
	}
	exec := outputs(failing)

	session, err := New(gen, exec, evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusAborted, session.Status)
	require.Len(t, session.History, 2)
	assert.Len(t, exec.commands, 1, "nothing runs after a failed generation")

	last := session.History[1]
	assert.False(t, last.GenerationSucceeded)
	assert.Nil(t, last.Outcome)
	assert.Contains(t, last.Verdict.Feedback, "not logged in")
	assert.Equal(t, failing, session.LastExecutionOutput)
}

func TestRun_GenerationPanicAborts(t *testing.T) {
	spec := newSpec(t, 3)
	gen := mock.New()
	gen.Handler = func(context.Context, int, codegen.Request) error { panic("backend exploded") }

	exec := outputs(passing)

	session, err := New(gen, exec, evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, session.Status)
	require.Len(t, session.History, 1)
	assert.False(t, session.History[0].GenerationSucceeded)
	assert.False(t, session.History[0].Verdict.Success)
	assert.Contains(t, session.History[0].Verdict.Feedback, "backend exploded")
	assert.Empty(t, exec.commands)
}

func TestRun_TimeoutSurfacesAsFeedback(t *testing.T) {
	spec := newSpec(t, 2)
	spec.ExecutionCommand = "sleep 5"
	gen := mock.New()

	session, err := New(gen, runner.New(spec.Root, 100*time.Millisecond), evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, session.Status)
	require.Len(t, session.History, 2)
	first := session.History[0]
	require.NotNil(t, first.Outcome)
	assert.True(t, first.Outcome.TimedOut)
	assert.Contains(t, first.ExecutionOutput, "ERROR: Execution timed out after 0.1 seconds")
	assert.False(t, first.Verdict.Success)

	assert.Contains(t, gen.Calls()[1].Prompt, "ERROR: Execution timed out after 0.1 seconds")
}

func TestRun_BudgetRespectedAndIndicesMonotonic(t *testing.T) {
	for _, budget := range []int{1, 2, 4, 7} {
		spec := newSpec(t, budget)
		gen := mock.New()

		session, err := New(gen, outputs(failing), evaluator.UnitTest{}).Run(context.Background(), spec)
		require.NoError(t, err)

		assert.Len(t, gen.Calls(), budget)
		require.Len(t, session.History, budget)
		for i, rec := range session.History {
			assert.Equal(t, i, rec.Index)
		}
	}
}

func TestRun_FullFeedbackHistory(t *testing.T) {
	spec := newSpec(t, 3)
	spec.FeedbackHistory = models.FeedbackFull
	gen := mock.New()

	_, err := New(gen, outputs("first failure FAILED", "second failure FAILED"), evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	third := gen.Calls()[2].Prompt
	assert.Contains(t, third, "first failure")
	assert.Contains(t, third, "second failure")
}

func TestRun_WritesRunLog(t *testing.T) {
	spec := newSpec(t, 2)

	session, err := New(mock.New(), outputs(failing, passing), evaluator.UnitTest{}).Run(context.Background(), spec)
	require.NoError(t, err)

	data, err := os.ReadFile(spec.LogPath)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "=== Director Run Log ==="))
	assert.Contains(t, text, session.ID)
	assert.Contains(t, text, "Iteration 1/2 verdict: FAILURE")
	assert.Contains(t, text, "Iteration 2/2 verdict: SUCCESS")
	assert.Contains(t, text, "Session SUCCEEDED after 2 iterations")
}

func TestRun_RunLogFailureStopsBeforeIterating(t *testing.T) {
	spec := newSpec(t, 2)
	blocker := filepath.Join(spec.Root, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	spec.LogPath = filepath.Join(blocker, "director.log")
	gen := mock.New()

	_, err := New(gen, outputs(passing), evaluator.UnitTest{}).Run(context.Background(), spec)
	require.Error(t, err)
	assert.Empty(t, gen.Calls())
}

func TestRun_RecordsToStoreAndMetrics(t *testing.T) {
	spec := newSpec(t, 3)
	store := &memoryStore{}
	m := metrics.New()

	d := New(mock.New(), outputs(failing, passing), evaluator.UnitTest{}, WithStore(store), WithMetrics(m))
	d.newID = func() string { return "fixed-id" }

	session, err := d.Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "fixed-id", session.ID)
	require.Len(t, store.created, 1)
	assert.Len(t, store.records, 2)
	assert.Equal(t, []models.TerminalStatus{models.StatusSucceeded}, store.completed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("succeeded")))
}

func TestRun_StoreFailuresDoNotEndSession(t *testing.T) {
	spec := newSpec(t, 2)
	store := &memoryStore{err: errors.New("database is locked")}

	session, err := New(mock.New(), outputs(failing, passing), evaluator.UnitTest{}, WithStore(store)).Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, session.Status)
	assert.Len(t, store.records, 2)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	spec := newSpec(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	gen := mock.New()
	gen.Handler = func(ctx context.Context, call int, _ codegen.Request) error {
		if call == 0 {
			cancel()
			return nil
		}
		return ctx.Err()
	}

	session, err := New(gen, outputs(failing), evaluator.UnitTest{}).Run(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAborted, session.Status)
	assert.Len(t, session.History, 2)
}
