package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dylan-isaac/dotfiles-sub000/internal/config"
	"github.com/dylan-isaac/dotfiles-sub000/internal/storage"
	"github.com/dylan-isaac/dotfiles-sub000/internal/tui"
)

// Exit codes beyond the session's own status.
const (
	exitError  = 1
	exitConfig = 3
)

// exitCodeError carries a specific process exit code out of a command.
// err may be nil when the code alone says everything.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitError
}

func newRootCommand() *cobra.Command {
	var logLevel, metricsFile string

	rootCmd := &cobra.Command{
		Use:           "director",
		Short:         "Iterative AI code generation",
		Long:          "Director drives an AI coding assistant through generate, run, and evaluate cycles until a task succeeds.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel})))
			return nil
		},
		RunE: runTUI,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default $DIRECTOR_LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after a run (default $DIRECTOR_METRICS_FILE)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())

	return rootCmd
}

type configKey struct{}

// newConfig is replaced in tests.
var newConfig = config.New

// loadConfig builds the process config, letting flags override the
// environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := newConfig()
	if err != nil {
		return nil, &exitCodeError{code: exitConfig, err: fmt.Errorf("failed to load config: %w", err)}
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		level, err := config.ParseLevel(lvl)
		if err != nil {
			return nil, &exitCodeError{code: exitConfig, err: err}
		}
		cfg.LogLevel = level
	}
	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		cfg.MetricsFile = path
	}
	return cfg, nil
}

// configFrom returns the config loaded by the root command's pre-run hook.
func configFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey{}).(*config.Config)
}

// openStore opens the session history database.
func openStore(cfg *config.Config) (*storage.Storage, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return storage.New(cfg.DBPath)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	app := tui.NewApp(store)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

	_, err = p.Run()
	return err
}
