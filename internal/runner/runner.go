// Package runner executes the workflow's validation command and captures
// its combined output. Failures are reported as text, never as errors, so
// the evaluator always has something to judge.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

const (
	DefaultTimeout = 300 * time.Second

	// waitDelay bounds how long Wait keeps copying output after the shell
	// exits while a background child still holds the pipe open.
	waitDelay = 5 * time.Second
)

type Runner struct {
	// Dir is the working directory for every command, normally the project root.
	Dir     string
	Timeout time.Duration
	Shell   string
}

func New(dir string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{Dir: dir, Timeout: timeout, Shell: "sh"}
}

// Run executes command through the shell and waits for it to finish or for
// the timeout to expire, whichever comes first.
func (r *Runner) Run(ctx context.Context, command string) models.ExecutionOutcome {
	start := time.Now()

	cmd := exec.Command(r.Shell, "-c", command)
	cmd.Dir = r.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		slog.Warn("validation command failed to start", "command", command, "error", err)
		return models.ExecutionOutcome{
			Output:   fmt.Sprintf("ERROR: failed to run command: %v", err),
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return r.finished(cmd, command, out.String(), err, time.Since(start))

	case <-timer.C:
		killGroup(cmd)
		<-done
		slog.Warn("validation command timed out", "command", command, "timeout", r.Timeout)
		return models.ExecutionOutcome{
			Output:   appendLine(out.String(), TimeoutMessage(r.Timeout)),
			TimedOut: true,
			Duration: time.Since(start),
		}

	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return models.ExecutionOutcome{
			Output:   appendLine(out.String(), fmt.Sprintf("ERROR: Execution cancelled: %v", ctx.Err())),
			Duration: time.Since(start),
		}
	}
}

func (r *Runner) finished(cmd *exec.Cmd, command, output string, err error, d time.Duration) models.ExecutionOutcome {
	outcome := models.ExecutionOutcome{Output: output, Duration: d}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		outcome.ExitCode = &code
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		outcome.ExitCode = &code
	default:
		// Output copying was cut short by waitDelay, or Wait failed outright.
		slog.Warn("validation command did not complete cleanly", "command", command, "error", err)
		outcome.Output = appendLine(output, fmt.Sprintf("ERROR: failed to run command: %v", err))
		if cmd.ProcessState != nil {
			code := cmd.ProcessState.ExitCode()
			outcome.ExitCode = &code
		}
	}
	return outcome
}

// TimeoutMessage is the synthetic output recorded for a timed-out command.
func TimeoutMessage(timeout time.Duration) string {
	secs := strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)
	return fmt.Sprintf("ERROR: Execution timed out after %s seconds", secs)
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the whole process group started with Setpgid.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}

func appendLine(output, line string) string {
	if output == "" {
		return line
	}
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output + line
}
