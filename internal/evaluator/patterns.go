package evaluator

import (
	"context"
	"regexp"
	"strings"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
)

// UnitTest reads the summary printed by Python's unittest runner.
type UnitTest struct{}

var (
	unittestFailureMarkers = []string{"FAILED", "ERROR", "Error", "Traceback", "timed out"}
	unittestOK             = regexp.MustCompile(`(?m)^OK( \(.*\))?\s*$`)
)

func (UnitTest) Evaluate(_ context.Context, _ *models.WorkflowSpec, output string) models.EvaluationResult {
	for _, marker := range unittestFailureMarkers {
		if strings.Contains(output, marker) {
			return failure(SourceUnitTest, "Tests failed. Output:\n\n"+output)
		}
	}
	if unittestOK.MatchString(output) {
		return success(SourceUnitTest, "All tests passed.")
	}
	return failure(SourceUnitTest, "Could not determine test results from output:\n\n"+output)
}

// Pytest reads the summary line printed by pytest.
type Pytest struct{}

var (
	pytestFailurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d+ failed\b`),
		regexp.MustCompile(`\b\d+ errors?\b`),
		regexp.MustCompile(`FAILED `),
		regexp.MustCompile(`ERROR`),
		regexp.MustCompile(`=+ FAILURES =+`),
		regexp.MustCompile(`timed out`),
	}
	pytestPassed = regexp.MustCompile(`\b\d+ passed\b`)
)

func (Pytest) Evaluate(_ context.Context, _ *models.WorkflowSpec, output string) models.EvaluationResult {
	for _, re := range pytestFailurePatterns {
		if re.MatchString(output) {
			return failure(SourcePytest, "Tests failed. Output:\n\n"+output)
		}
	}
	if strings.Contains(output, "no tests ran") {
		return failure(SourcePytest, "No tests ran. Output:\n\n"+output)
	}
	if pytestPassed.MatchString(output) {
		return success(SourcePytest, "All tests passed.")
	}
	return failure(SourcePytest, "Could not determine test results from output:\n\n"+output)
}
