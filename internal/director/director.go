// Package director drives the generate, execute, evaluate loop for one
// workflow spec until the task succeeds, the budget runs out, or code
// generation breaks.
package director

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dylan-isaac/dotfiles-sub000/internal/codegen"
	"github.com/dylan-isaac/dotfiles-sub000/internal/evaluator"
	"github.com/dylan-isaac/dotfiles-sub000/internal/metrics"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	"github.com/dylan-isaac/dotfiles-sub000/internal/prompt"
	"github.com/dylan-isaac/dotfiles-sub000/internal/runlog"
)

const sourceCodegen = "codegen"

// Executor runs the validation command. runner.Runner implements it.
type Executor interface {
	Run(ctx context.Context, command string) models.ExecutionOutcome
}

// Recorder persists session history. storage.Storage implements it.
type Recorder interface {
	CreateSession(session *models.Session) error
	RecordIteration(sessionID string, rec models.IterationRecord) error
	CompleteSession(session *models.Session) error
}

type Director struct {
	gen     codegen.Generator
	exec    Executor
	eval    evaluator.Evaluator
	store   Recorder
	metrics *metrics.Metrics
	newID   func() string
}

type Option func(*Director)

// WithStore records every session and iteration in r.
func WithStore(r Recorder) Option {
	return func(d *Director) { d.store = r }
}

// WithMetrics counts iterations and outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Director) { d.metrics = m }
}

func New(gen codegen.Generator, exec Executor, eval evaluator.Evaluator, opts ...Option) *Director {
	d := &Director{
		gen:   gen,
		exec:  exec,
		eval:  eval,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes one session. The only error returned is a failure to open
// the run log, which happens before any iteration; every later problem is
// reflected in the returned session's status and history.
func (d *Director) Run(ctx context.Context, spec *models.WorkflowSpec) (*models.Session, error) {
	session := &models.Session{
		ID:        d.newID(),
		Spec:      spec,
		Status:    models.StatusPending,
		StartedAt: time.Now(),
	}

	log, err := runlog.Create(spec.LogPath, session)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer log.Close()

	if d.store != nil {
		d.warn("failed to store session", d.store.CreateSession(session), session)
	}

	slog.Info("session started",
		"session", session.ID,
		"workflow", spec.Name,
		"max_iterations", spec.MaxIterations,
		"log", log.Path(),
	)

	session.Status = models.StatusFailed
	for index := 0; index < spec.MaxIterations; index++ {
		rec := d.iterate(ctx, session, log, index)
		d.record(session, log, rec)

		if !rec.GenerationSucceeded {
			session.Status = models.StatusAborted
			break
		}
		if rec.Verdict.Success {
			session.Status = models.StatusSucceeded
			break
		}
	}

	d.finish(session, log)
	return session, nil
}

// iterate runs one generate, execute, evaluate pass.
func (d *Director) iterate(ctx context.Context, session *models.Session, log *runlog.Log, index int) models.IterationRecord {
	spec := session.Spec
	rec := models.IterationRecord{
		Index:      index,
		StartedAt:  time.Now(),
		PromptSent: prompt.Compose(spec, index, session.History),
	}
	attempt := fmt.Sprintf("%d/%d", index+1, spec.MaxIterations)

	slog.Info("generating code", "session", session.ID, "iteration", attempt, "backend", d.gen.Name(), "model", spec.CodeModel)
	d.logf(log, "Iteration %s: invoking %s (%s)", attempt, d.gen.Name(), spec.CodeModel)

	ok, cause := codegen.Invoke(ctx, d.gen, codegen.Request{
		Prompt:   rec.PromptSent,
		Editable: spec.EditablePaths,
		ReadOnly: spec.ReadOnlyPaths,
		Model:    spec.CodeModel,
	}, spec.GenerationTimeout)

	rec.GenerationSucceeded = ok
	if !ok {
		feedback := "Code generation failed"
		if cause != nil {
			feedback = fmt.Sprintf("Code generation failed: %v", cause)
		}
		rec.Verdict = models.EvaluationResult{Success: false, Feedback: feedback, Source: sourceCodegen}
		rec.Duration = time.Since(rec.StartedAt)
		return rec
	}

	slog.Info("running validation command", "session", session.ID, "iteration", attempt, "command", spec.ExecutionCommand)
	d.logf(log, "Iteration %s: running %s", attempt, spec.ExecutionCommand)

	outcome := d.exec.Run(ctx, spec.ExecutionCommand)
	rec.Outcome = &outcome
	rec.ExecutionOutput = outcome.Output

	rec.Verdict = d.eval.Evaluate(ctx, spec, outcome.Output)
	rec.Duration = time.Since(rec.StartedAt)

	slog.Info("iteration evaluated",
		"session", session.ID,
		"iteration", attempt,
		"success", rec.Verdict.Success,
		"source", rec.Verdict.Source,
		"duration", rec.Duration.Round(time.Millisecond),
	)
	return rec
}

// record makes an iteration durable before the next pass begins.
func (d *Director) record(session *models.Session, log *runlog.Log, rec models.IterationRecord) {
	session.History = append(session.History, rec)
	if rec.GenerationSucceeded {
		session.LastExecutionOutput = rec.ExecutionOutput
	}

	if err := log.Iteration(rec, session.Spec.MaxIterations); err != nil {
		slog.Warn("failed to write run log", "session", session.ID, "error", err)
	}
	if d.store != nil {
		d.warn("failed to store iteration", d.store.RecordIteration(session.ID, rec), session)
	}
	if d.metrics != nil {
		d.metrics.RecordIteration(rec)
	}
}

func (d *Director) finish(session *models.Session, log *runlog.Log) {
	now := time.Now()
	session.CompletedAt = &now

	n := len(session.History)
	d.logf(log, "Session %s after %d %s", strings.ToUpper(string(session.Status)), n, iterations(n))
	slog.Info("session finished",
		"session", session.ID,
		"status", session.Status,
		"iterations", n,
		"duration", now.Sub(session.StartedAt).Round(time.Millisecond),
	)

	if d.store != nil {
		d.warn("failed to complete session", d.store.CompleteSession(session), session)
	}
	if d.metrics != nil {
		d.metrics.RecordSession(session.Status)
	}
}

func (d *Director) logf(log *runlog.Log, format string, args ...any) {
	if err := log.Logf(format, args...); err != nil {
		slog.Warn("failed to write run log", "error", err)
	}
}

func (d *Director) warn(msg string, err error, session *models.Session) {
	if err != nil {
		slog.Warn(msg, "session", session.ID, "error", err)
	}
}

func iterations(n int) string {
	if n == 1 {
		return "iteration"
	}
	return "iterations"
}
