// Package codegen hands the composed prompt and file scope to an external
// AI coding assistant.
package codegen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Request is everything a backend needs for one generation pass.
type Request struct {
	Prompt   string
	Editable []string
	ReadOnly []string
	Model    string
}

// Generator is implemented by each code-generation backend. A nil error
// only means the assistant ran to completion, not that its change is right.
type Generator interface {
	Generate(ctx context.Context, req Request) error
	Name() string
}

// Invoke runs one generation pass and reports whether the backend completed.
// Errors and panics from the backend are logged and turned into a false
// result so they never escape the iteration. timeout bounds the call when
// positive.
func Invoke(ctx context.Context, g Generator, req Request, timeout time.Duration) (ok bool, cause error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			cause = fmt.Errorf("%s backend panicked: %v", g.Name(), r)
			slog.Error("code generation panicked", "backend", g.Name(), "panic", r)
		}
	}()

	start := time.Now()
	if err := g.Generate(ctx, req); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w (timed out after %s)", err, timeout)
		}
		slog.Error("code generation failed", "backend", g.Name(), "model", req.Model, "error", err)
		return false, err
	}

	slog.Info("code generation completed", "backend", g.Name(), "model", req.Model, "duration", time.Since(start).Round(time.Millisecond))
	return true, nil
}

// New returns the generator for a backend name, running in dir.
func New(backend, dir string) (Generator, error) {
	switch backend {
	case "", "claude":
		return NewClaude(dir), nil
	case "aider":
		return NewAider(dir), nil
	default:
		return nil, fmt.Errorf("unknown code backend %q", backend)
	}
}

// tail keeps the last n bytes of process output for error messages.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
