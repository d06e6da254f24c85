package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dylan-isaac/dotfiles-sub000/internal/storage"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			for _, s := range sessions {
				fmt.Fprintf(out, "%s %-18s [%s] %d/%d %s  %s\n",
					shortID(s.ID), s.SpecName, s.Status, s.Iterations, s.MaxIterations,
					storage.FormatTimeAgo(s.CreatedAt), truncate(firstLine(s.TaskPrompt), 50))
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Number of sessions to show")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session and its iterations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.GetSession(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s: %s\n", s.ID, s.SpecName)
			fmt.Fprintf(out, "Status: %s\n", s.Status)
			fmt.Fprintf(out, "Started: %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			if s.CompletedAt != nil {
				fmt.Fprintf(out, "Finished: %s\n", s.CompletedAt.Local().Format("2006-01-02 15:04:05"))
			}
			if s.SpecPath != "" {
				fmt.Fprintf(out, "Spec: %s\n", s.SpecPath)
			}
			fmt.Fprintf(out, "Command: %s\n", s.ExecutionCommand)
			fmt.Fprintf(out, "Run log: %s\n", s.LogPath)

			records, err := store.GetIterations(s.ID)
			if err != nil {
				return err
			}

			if len(records) > 0 {
				fmt.Fprintln(out, "\nIterations:")
				for _, rec := range records {
					verdict := "failure"
					switch {
					case !rec.GenerationSucceeded:
						verdict = "generation failed"
					case rec.Verdict.Success:
						verdict = "success"
					}
					line := fmt.Sprintf("  %d/%d [%s]", rec.Index+1, s.MaxIterations, verdict)
					if rec.Outcome != nil && rec.Outcome.TimedOut {
						line += " (timed out)"
					} else if rec.Outcome != nil && rec.Outcome.ExitCode != nil {
						line += fmt.Sprintf(" (exit %d)", *rec.Outcome.ExitCode)
					}
					if fb := firstLine(rec.Verdict.Feedback); fb != "" && !rec.Verdict.Success {
						line += " " + truncate(fb, 80)
					}
					fmt.Fprintln(out, line)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session from the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.GetSession(args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteSession(s.ID); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", s.ID)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
