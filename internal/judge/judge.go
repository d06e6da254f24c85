// Package judge sends review prompts to a language model and returns its
// raw reply. Interpreting the reply is the evaluator's job.
package judge

import (
	"context"
	"fmt"
)

// Judge is implemented by each judgment backend.
type Judge interface {
	Judge(ctx context.Context, prompt, model string) (string, error)
	Name() string
}

// New returns the judge for a backend name. API-backed judges read their
// credentials from the environment.
func New(backend, dir string) (Judge, error) {
	switch backend {
	case "", "claude":
		return NewClaude(dir), nil
	case "openai":
		return NewOpenAI()
	case "anthropic":
		return NewAnthropic(), nil
	case "ollama":
		return NewOllama(), nil
	default:
		return nil, fmt.Errorf("unknown judge backend %q", backend)
	}
}
