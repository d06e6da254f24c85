package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Claude drives the Claude Code CLI in print mode.
type Claude struct {
	Binary   string
	Dir      string
	MaxTurns int
}

func NewClaude(dir string) *Claude {
	return &Claude{Binary: "claude", Dir: dir}
}

func (c *Claude) Name() string { return "claude" }

type claudeResult struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

func (c *Claude) Generate(ctx context.Context, req Request) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.args(req)...)
	cmd.Dir = c.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("claude failed: %w: %s", err, tail(stderr.String(), 500))
	}

	var result claudeResult
	if err := json.Unmarshal(output, &result); err != nil {
		// Older CLIs print plain text; a clean exit is all we rely on.
		return nil
	}
	if result.IsError {
		return fmt.Errorf("claude reported an error (%s): %s", result.Subtype, tail(result.Result, 500))
	}
	return nil
}

func (c *Claude) args(req Request) []string {
	args := []string{
		"-p", scopedPrompt(req),
		"--output-format", "json",
		"--dangerously-skip-permissions",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if c.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.MaxTurns))
	}
	return args
}

// scopedPrompt appends the file scope, since the CLI has no flag for it.
func scopedPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n\n---\n")
	b.WriteString("Only modify these files:\n")
	for _, p := range req.Editable {
		b.WriteString("- " + p + "\n")
	}
	if len(req.ReadOnly) > 0 {
		b.WriteString("\nRead these files for context but do NOT modify them:\n")
		for _, p := range req.ReadOnly {
			b.WriteString("- " + p + "\n")
		}
	}
	return b.String()
}
