package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylan-isaac/dotfiles-sub000/internal/config"
)

// project lays out a small repo and isolates Director's data directory.
func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("DIRECTOR_DATA_DIR", filepath.Join(t.TempDir(), "data"))
	t.Setenv("DIRECTOR_LOG_LEVEL", "error")
	t.Setenv("DIRECTOR_METRICS_FILE", "")

	write(t, root, "calc.py", "def add(a, b):\n    return a - b\n")
	write(t, root, "test_calc.py", "import calc\n")
	return root
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// fakeClaude puts a stand-in claude CLI first on PATH.
func fakeClaude(t *testing.T, body string) {
	t.Helper()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "claude"), []byte("#!/bin/sh\n"+body+"\n"), 0755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func specYAML(command string) string {
	return `
task_prompt: Fix add so the tests pass.
code_model: sonnet
max_iterations: 2
execution_command: ` + command + `
editable_paths: [calc.py]
read_only_paths: [test_calc.py]
evaluator: unittest
`
}

func TestValidate(t *testing.T) {
	root := project(t)
	path := write(t, root, "spec.yaml", specYAML("echo OK"))

	code, out, _ := run(t, "validate", path, "--root", root)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "Editable:       calc.py")
}

func TestValidate_ConfigErrorExitCode(t *testing.T) {
	root := project(t)
	path := write(t, root, "spec.yaml", "task_prompt: x\n")

	code, _, errOut := run(t, "validate", path, "--root", root)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "Error:")

	code, _, _ = run(t, "run", filepath.Join(root, "missing.yaml"), "--root", root)
	assert.Equal(t, exitConfig, code)
}

func TestRun_DryRun(t *testing.T) {
	root := project(t)
	path := write(t, root, "spec.yaml", specYAML("echo OK"))

	code, out, _ := run(t, "run", path, "--root", root, "--dry-run", "--max-iterations", "7")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Max iterations: 7")
	assert.Contains(t, out, "Fix add so the tests pass.")
	assert.NoFileExists(t, filepath.Join(root, "director.log"))
}

func TestRun_SpecByName(t *testing.T) {
	root := project(t)
	write(t, filepath.Join(root, ".director", "specs"), "fix-add.yaml", specYAML("echo OK"))

	code, out, _ := run(t, "run", "fix-add", "--root", root, "--dry-run")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Workflow:       fix-add")
}

func TestRun_Succeeded(t *testing.T) {
	root := project(t)
	fakeClaude(t, `echo '{"type":"result","is_error":false,"result":"done"}'`)
	path := write(t, root, "spec.yaml", specYAML(`printf 'Ran 1 test\n\nOK\n'`))
	metricsFile := filepath.Join(t.TempDir(), "director.prom")

	code, out, _ := run(t, "run", path, "--root", root, "--metrics-file", metricsFile)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "SUCCEEDED after 1 of 2 iterations")
	assert.FileExists(t, filepath.Join(root, "director.log"))
	assert.FileExists(t, metricsFile)

	code, out, _ = run(t, "list")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "[succeeded] 1/2")
}

func TestRun_FailedExitCode(t *testing.T) {
	root := project(t)
	fakeClaude(t, `echo '{"type":"result","is_error":false,"result":"done"}'`)
	path := write(t, root, "spec.yaml", specYAML(`printf 'FAILED (failures=1)\n'`))

	code, out, _ := run(t, "run", path, "--root", root)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "FAILED after 2 of 2 iterations")
	assert.Contains(t, out, "Last feedback:")
}

func TestRun_AbortedExitCode(t *testing.T) {
	root := project(t)
	fakeClaude(t, `echo 'not logged in' >&2; exit 1`)
	path := write(t, root, "spec.yaml", specYAML("echo OK"))

	code, out, _ := run(t, "run", path, "--root", root)
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "ABORTED after 1 of 2 iterations")
}

func TestList_Empty(t *testing.T) {
	project(t)

	code, out, _ := run(t, "list")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "No sessions found.")
}

func TestStatusAndDelete_UnknownSession(t *testing.T) {
	project(t)

	code, _, errOut := run(t, "status", "nope")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "session not found")

	code, _, _ = run(t, "delete", "nope")
	assert.Equal(t, exitError, code)
}

func TestBadLogLevelFlag(t *testing.T) {
	project(t)

	code, _, _ := run(t, "list", "--log-level", "loud")
	assert.Equal(t, exitConfig, code)
}

func TestConfigLoadedOncePerCommand(t *testing.T) {
	root := project(t)
	write(t, root, "add.yaml", specYAML("true"))

	loads := 0
	orig := newConfig
	newConfig = func() (*config.Config, error) {
		loads++
		return orig()
	}
	t.Cleanup(func() { newConfig = orig })

	for _, args := range [][]string{
		{"list"},
		{"status", "nope"},
		{"validate", filepath.Join(root, "add.yaml"), "--root", root},
	} {
		loads = 0
		run(t, args...)
		assert.Equal(t, 1, loads, args[0])
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	got := truncate("fix: ✓✓✓✓✓", 9)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "fix: ...", got)
}
