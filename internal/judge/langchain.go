package judge

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LLM judges through a langchaingo model. The model is built per call since
// the model id comes from the workflow spec.
type LLM struct {
	name  string
	build func(model string) (llms.Model, error)
}

// NewAnthropic uses ANTHROPIC_API_KEY from the environment.
func NewAnthropic() *LLM {
	return &LLM{
		name: "anthropic",
		build: func(model string) (llms.Model, error) {
			return anthropic.New(anthropic.WithModel(model))
		},
	}
}

// NewOllama talks to OLLAMA_HOST, or the local default when unset.
func NewOllama() *LLM {
	host := os.Getenv("OLLAMA_HOST")
	return &LLM{
		name: "ollama",
		build: func(model string) (llms.Model, error) {
			opts := []ollama.Option{ollama.WithModel(model)}
			if host != "" {
				opts = append(opts, ollama.WithServerURL(host))
			}
			return ollama.New(opts...)
		},
	}
}

func (l *LLM) Name() string { return l.name }

func (l *LLM) Judge(ctx context.Context, prompt, model string) (string, error) {
	llm, err := l.build(model)
	if err != nil {
		return "", fmt.Errorf("failed to create %s client: %w", l.name, err)
	}

	slog.Debug("requesting judgment", "backend", l.name, "model", model)
	reply, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("%s call failed: %w", l.name, err)
	}
	return reply, nil
}
