package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/dylan-isaac/dotfiles-sub000/internal/codegen"
	"github.com/dylan-isaac/dotfiles-sub000/internal/config"
	"github.com/dylan-isaac/dotfiles-sub000/internal/director"
	"github.com/dylan-isaac/dotfiles-sub000/internal/evaluator"
	"github.com/dylan-isaac/dotfiles-sub000/internal/judge"
	"github.com/dylan-isaac/dotfiles-sub000/internal/metrics"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	"github.com/dylan-isaac/dotfiles-sub000/internal/prompt"
	"github.com/dylan-isaac/dotfiles-sub000/internal/runner"
	"github.com/dylan-isaac/dotfiles-sub000/internal/spec"
	"github.com/dylan-isaac/dotfiles-sub000/internal/workspace"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <spec>",
		Short: "Run a workflow spec until it succeeds or its budget is spent",
		Long: "Run loads a workflow spec (a path, or a name looked up in .director/specs and\n" +
			"the user spec directory) and iterates until the task succeeds.\n\n" +
			"Exit status: 0 succeeded, 1 failed, 2 aborted, 3 configuration error.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)

			rootFlag, _ := cmd.Flags().GetString("root")
			maxIterations, _ := cmd.Flags().GetInt("max-iterations")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			s, err := loadSpec(cfg, args[0], rootFlag)
			if err != nil {
				return err
			}
			if maxIterations > 0 {
				s.MaxIterations = maxIterations
			}

			if dryRun {
				printSpec(cmd, s)
				fmt.Fprintf(cmd.OutOrStdout(), "\nFirst prompt:\n%s\n", prompt.Compose(s, 0, nil))
				return nil
			}

			return runSpec(cmd, cfg, s)
		},
	}

	cmd.Flags().String("root", "", "Project root (default: git top-level of the current directory)")
	cmd.Flags().Int("max-iterations", 0, "Override the spec's iteration budget")
	cmd.Flags().Bool("dry-run", false, "Validate the spec and print the first prompt without running")
	return cmd
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <spec>",
		Short: "Check a workflow spec without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			rootFlag, _ := cmd.Flags().GetString("root")

			s, err := loadSpec(cfg, args[0], rootFlag)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n\n", s.Path)
			printSpec(cmd, s)
			return nil
		},
	}

	cmd.Flags().String("root", "", "Project root (default: git top-level of the current directory)")
	return cmd
}

// loadSpec resolves the project root and loads the named spec. Every
// failure is a configuration error.
func loadSpec(cfg *config.Config, name, rootFlag string) (*models.WorkflowSpec, error) {
	root := rootFlag
	if root == "" {
		var err error
		if root, err = workspace.Root("."); err != nil {
			return nil, &exitCodeError{code: exitConfig, err: err}
		}
	}

	loader, err := spec.NewLoader(root)
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: err}
	}

	path := spec.Find(name, cfg.SpecDirs(loader.Root))
	if path == "" {
		path = name
	}

	s, err := loader.Load(path)
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: err}
	}
	return s, nil
}

func runSpec(cmd *cobra.Command, cfg *config.Config, s *models.WorkflowSpec) error {
	gen, err := codegen.New(s.CodeBackend, s.Root)
	if err != nil {
		return &exitCodeError{code: exitConfig, err: err}
	}

	var j judge.Judge
	if s.Evaluator == models.EvaluatorJudgment {
		if j, err = judge.New(s.JudgeBackend, s.Root); err != nil {
			return &exitCodeError{code: exitConfig, err: err}
		}
	}

	eval, err := evaluator.New(s, j)
	if err != nil {
		return &exitCodeError{code: exitConfig, err: err}
	}

	m := metrics.New()
	opts := []director.Option{director.WithMetrics(m)}

	store, err := openStore(cfg)
	if err != nil {
		slog.Warn("session history unavailable", "error", err)
	} else {
		defer store.Close()
		opts = append(opts, director.WithStore(store))
	}

	d := director.New(gen, runner.New(s.Root, s.ExecutionTimeout), eval, opts...)

	session, err := d.Run(cmd.Context(), s)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Warn("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s: %s after %d of %d iterations\n",
		session.ID, strings.ToUpper(string(session.Status)), len(session.History), s.MaxIterations)
	if last, ok := session.Last(); ok && !last.Verdict.Success && last.Verdict.Feedback != "" {
		fmt.Fprintf(out, "Last feedback: %s\n", truncate(last.Verdict.Feedback, 500))
	}
	fmt.Fprintf(out, "Run log: %s\n", s.LogPath)

	if code := session.Status.ExitCode(); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

func printSpec(cmd *cobra.Command, s *models.WorkflowSpec) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow:       %s\n", s.Name)
	fmt.Fprintf(out, "Root:           %s\n", s.Root)
	fmt.Fprintf(out, "Code model:     %s (%s)\n", s.CodeModel, s.CodeBackend)
	if s.Evaluator == models.EvaluatorJudgment {
		fmt.Fprintf(out, "Judge model:    %s (%s)\n", s.JudgeModel, s.JudgeBackend)
	}
	fmt.Fprintf(out, "Evaluator:      %s\n", s.Evaluator)
	if s.EvaluatorScript != "" {
		fmt.Fprintf(out, "Script:         %s\n", s.EvaluatorScript)
	}
	fmt.Fprintf(out, "Max iterations: %d\n", s.MaxIterations)
	fmt.Fprintf(out, "Command:        %s (timeout %s)\n", s.ExecutionCommand, s.ExecutionTimeout)
	fmt.Fprintf(out, "Editable:       %s\n", strings.Join(s.EditablePaths, ", "))
	if len(s.ReadOnlyPaths) > 0 {
		fmt.Fprintf(out, "Read-only:      %s\n", strings.Join(s.ReadOnlyPaths, ", "))
	}
	fmt.Fprintf(out, "Run log:        %s\n", relative(s.Root, s.LogPath))
}

func relative(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen-3, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
