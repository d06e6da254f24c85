// Package prompt builds the instruction handed to the code-generation step
// on each Director iteration.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

// Compose returns the prompt for iteration index. The first iteration gets
// the task prompt verbatim. Later iterations restate the task, then the
// previous execution output and evaluator feedback, then the number of
// attempts remaining, always in that order.
//
// prior holds the records of earlier iterations, oldest first. Compose does
// not modify it.
func Compose(spec *models.WorkflowSpec, index int, prior []models.IterationRecord) string {
	if index == 0 || len(prior) == 0 {
		return spec.TaskPrompt
	}

	history := prior[len(prior)-1:]
	if spec.FeedbackHistory == models.FeedbackFull {
		history = prior
	}

	var b strings.Builder
	b.WriteString("# Task\n\n")
	b.WriteString(strings.TrimRight(spec.TaskPrompt, "\n"))
	b.WriteString("\n\n")

	for _, rec := range history {
		heading := "Previous"
		if len(history) > 1 {
			heading = fmt.Sprintf("Attempt %d", rec.Index+1)
		}

		fmt.Fprintf(&b, "# %s Execution Output\n\n", heading)
		b.WriteString("```\n")
		b.WriteString(rec.ExecutionOutput)
		if !strings.HasSuffix(rec.ExecutionOutput, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")

		fmt.Fprintf(&b, "# %s Feedback\n\n", heading)
		b.WriteString(feedbackText(rec))
		b.WriteString("\n\n")
	}

	remaining := spec.MaxIterations - index
	b.WriteString("# Instructions\n\n")
	b.WriteString("Address the feedback above and update the editable files so the task is complete. ")
	fmt.Fprintf(&b, "You have %d %s remaining.\n", remaining, plural(remaining, "attempt", "attempts"))

	return b.String()
}

func feedbackText(rec models.IterationRecord) string {
	if rec.Verdict.Feedback != "" {
		return rec.Verdict.Feedback
	}
	return "(no feedback)"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
