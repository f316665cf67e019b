// Package prompt renders the text prompts sent to the AI CLI: PR reviews,
// per-content-type issue scoring rubrics and feedback analysis.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.md
var templateFS embed.FS

// Score content types. Each selects a different rubric template.
const (
	TypeBug        = "bug"
	TypeTask       = "task"
	TypeFeature    = "feature"
	TypeTestResult = "test_result"
	TypeComment    = "comment"
)

// FileSection is one changed file in a review prompt.
type FileSection struct {
	Filename string
	Status   string
	Patch    string
}

// ReviewData holds the context for rendering a PR review prompt.
type ReviewData struct {
	Repo       string
	PRNumber   int
	Title      string
	Author     string
	Body       string
	FocusAreas []string
	Language   string
	Files      []FileSection
	Truncated  bool
}

// RenderReview renders the PR review prompt.
func RenderReview(data ReviewData) (string, error) {
	return render("templates/review.md", data)
}

// ScoreData holds the context for rendering a scoring prompt.
type ScoreData struct {
	Repo        string
	IssueNumber int
	Title       string
	Body        string
	Author      string
	Labels      []string
	Language    string

	// FeedbackBlock is the synthesized calibration guidance from recent
	// user feedback; empty when there is not enough data.
	FeedbackBlock string

	// AuthorHistory summarizes the author's past scores; empty for
	// first-time authors.
	AuthorHistory string
}

var scoreTemplates = map[string]string{
	TypeBug:        "templates/score_bug.md",
	TypeTask:       "templates/score_task.md",
	TypeFeature:    "templates/score_feature.md",
	TypeTestResult: "templates/score_test.md",
	TypeComment:    "templates/score_comment.md",
}

// RenderScore renders the scoring prompt for the given content type.
func RenderScore(contentType string, data ScoreData) (string, error) {
	name, ok := scoreTemplates[contentType]
	if !ok {
		return "", fmt.Errorf("unknown content type %q", contentType)
	}
	return render(name, data)
}

// RenderStrictJSONReprompt renders the follow-up prompt used when the first
// scoring response could not be parsed as JSON.
func RenderStrictJSONReprompt(previous string) (string, error) {
	return render("templates/score_strict.md", struct{ Previous string }{Previous: previous})
}

// FeedbackAnalysisData holds the context for analyzing one piece of user
// feedback on a score.
type FeedbackAnalysisData struct {
	FormatScore        int
	ContentScore       int
	ClarityScore       int
	ActionabilityScore int
	OverallScore       int
	Feedback           string
}

// RenderFeedbackAnalysis renders the analyzer prompt.
func RenderFeedbackAnalysis(data FeedbackAnalysisData) (string, error) {
	return render("templates/feedback_analysis.md", data)
}

func render(name string, data any) (string, error) {
	content, err := templateFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("reading template %s: %w", name, err)
	}

	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}

	return buf.String(), nil
}
