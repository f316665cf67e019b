package scorer

import (
	"strings"

	"github.com/hubmon/hubmon/internal/prompt"
)

// DetectContentType classifies an issue by its title prefix first and body
// structure second. Everything unrecognized scores as a bug report, the
// strictest rubric.
func DetectContentType(title, body string) string {
	t := strings.ToLower(title)
	b := strings.ToLower(body)

	switch {
	case strings.Contains(t, "[task]") || strings.Contains(t, "task"):
		return prompt.TypeTask
	case strings.Contains(t, "[request") || strings.Contains(t, "request for features"):
		return prompt.TypeFeature
	case strings.Contains(t, "[test]") || strings.Contains(t, "test result") || strings.Contains(t, "測試結果"):
		return prompt.TypeTestResult
	case strings.Contains(t, "[bug]") || strings.Contains(t, "bug report"):
		return prompt.TypeBug
	}

	switch {
	case strings.Contains(b, "## todo") || strings.Contains(b, "- [ ]"):
		return prompt.TypeTask
	case strings.Contains(b, "## specification") || strings.Contains(b, "## reference"):
		return prompt.TypeFeature
	case strings.Contains(b, "test case") || strings.Contains(b, "測試案例"):
		return prompt.TypeTestResult
	case strings.Contains(b, "## issue overview") &&
		(strings.Contains(b, "## test result") || strings.Contains(b, "## test environment")):
		return prompt.TypeTestResult
	}

	return prompt.TypeBug
}
