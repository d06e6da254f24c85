package codegen

import (
	"context"
	"fmt"
	"os/exec"
)

// Aider drives the aider CLI in single-message mode. Editable files are
// added with --file and reference files with --read.
type Aider struct {
	Binary string
	Dir    string
}

func NewAider(dir string) *Aider {
	return &Aider{Binary: "aider", Dir: dir}
}

func (a *Aider) Name() string { return "aider" }

func (a *Aider) Generate(ctx context.Context, req Request) error {
	cmd := exec.CommandContext(ctx, a.Binary, a.args(req)...)
	cmd.Dir = a.Dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("aider failed: %w: %s", err, tail(string(output), 500))
	}
	return nil
}

func (a *Aider) args(req Request) []string {
	args := []string{
		"--yes-always",
		"--no-auto-commits",
		"--no-pretty",
		"--no-stream",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	for _, p := range req.Editable {
		args = append(args, "--file", p)
	}
	for _, p := range req.ReadOnly {
		args = append(args, "--read", p)
	}
	return append(args, "--message", req.Prompt)
}
