package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dylan-isaac/dotfiles-sub000/internal/judge"
	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	"github.com/dylan-isaac/dotfiles-sub000/internal/workspace"
)

const noObviousErrors = "No obvious errors detected in execution output."

// Judgment asks a language model whether the task is done.
type Judgment struct {
	judge judge.Judge
}

func NewJudgment(j judge.Judge) *Judgment {
	return &Judgment{judge: j}
}

func (e *Judgment) Evaluate(ctx context.Context, spec *models.WorkflowSpec, output string) models.EvaluationResult {
	files := workspace.ReadFiles(spec.Root, spec.EditablePaths, spec.ReadOnlyPaths)
	prompt := ReviewPrompt(spec, output, files)

	if spec.JudgeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.JudgeTimeout)
		defer cancel()
	}

	reply, err := e.judge.Judge(ctx, prompt, spec.JudgeModel)
	if err != nil {
		slog.Warn("judge call failed, using heuristic verdict", "backend", e.judge.Name(), "error", err)
		return Heuristic(output)
	}

	verdict, ok := ParseVerdict(reply)
	if !ok {
		slog.Warn("could not parse judge reply, using heuristic verdict", "backend", e.judge.Name(), "reply", truncate(reply, 200))
		return Heuristic(output)
	}
	return verdict
}

// ReviewPrompt builds the request sent to the judge.
func ReviewPrompt(spec *models.WorkflowSpec, output string, files []workspace.File) string {
	var b strings.Builder

	b.WriteString("You are reviewing the result of an automated coding attempt.\n\n")
	b.WriteString("# Task\n\n")
	b.WriteString(spec.TaskPrompt)
	b.WriteString("\n\n# Validation Command\n\n")
	fmt.Fprintf(&b, "`%s`\n\n", spec.ExecutionCommand)
	b.WriteString("# Execution Output\n\n```\n")
	b.WriteString(output)
	if !strings.HasSuffix(output, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")

	if len(files) > 0 {
		b.WriteString("# Files\n\n")
		for _, f := range files {
			kind := "read-only"
			if f.Editable {
				kind = "editable"
			}
			fmt.Fprintf(&b, "## %s (%s)\n\n", f.Path, kind)
			if f.Err != nil {
				fmt.Fprintf(&b, "(unavailable: %v)\n\n", f.Err)
				continue
			}
			b.WriteString("```\n")
			b.WriteString(f.Content)
			if !strings.HasSuffix(f.Content, "\n") {
				b.WriteString("\n")
			}
			b.WriteString("```\n\n")
		}
	}

	b.WriteString("# Response\n\n")
	b.WriteString("Decide whether the task has been fully accomplished based on the output and the files.\n")
	b.WriteString("Respond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"success": true or false, "feedback": "what is wrong and how to fix it"}`)
	b.WriteString("\nFeedback is required when success is false.\n")
	return b.String()
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseVerdict extracts {success, feedback} from a judge reply. The object
// may be wrapped in a code fence or surrounded by prose. ok is false when no
// object with a boolean success field can be found.
func ParseVerdict(reply string) (models.EvaluationResult, bool) {
	candidate := ""
	if m := fencedJSON.FindStringSubmatch(reply); m != nil {
		candidate = m[1]
	} else {
		start := strings.Index(reply, "{")
		end := strings.LastIndex(reply, "}")
		if start < 0 || end <= start {
			return models.EvaluationResult{}, false
		}
		candidate = reply[start : end+1]
	}

	var parsed struct {
		Success  *bool  `json:"success"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil || parsed.Success == nil {
		return models.EvaluationResult{}, false
	}

	feedback := strings.TrimSpace(parsed.Feedback)
	if !*parsed.Success && feedback == "" {
		feedback = "The reviewer judged the attempt unsuccessful but gave no details."
	}
	return models.EvaluationResult{Success: *parsed.Success, Feedback: feedback, Source: SourceJudgment}, true
}

// Heuristic is the deterministic verdict used when the judge cannot be
// consulted or understood.
func Heuristic(output string) models.EvaluationResult {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		return failure(SourceFallback, output)
	}
	return success(SourceFallback, noObviousErrors)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
