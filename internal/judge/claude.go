package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Claude asks the Claude Code CLI for a single reply without tool use.
type Claude struct {
	Binary string
	Dir    string
}

func NewClaude(dir string) *Claude {
	return &Claude{Binary: "claude", Dir: dir}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Judge(ctx context.Context, prompt, model string) (string, error) {
	args := []string{"-p", prompt, "--output-format", "json", "--max-turns", "1"}
	if model != "" {
		args = append(args, "--model", model)
	}

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = c.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("claude judge failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var result struct {
		IsError bool   `json:"is_error"`
		Result  string `json:"result"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return string(output), nil
	}
	if result.IsError {
		return "", fmt.Errorf("claude judge reported an error: %s", result.Result)
	}
	return result.Result, nil
}
