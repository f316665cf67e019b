package scorer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hubmon/hubmon/internal/store"
)

// maxInsightIssues caps how many recurring issues make it into the prompt.
const maxInsightIssues = 10

// BuildFeedbackBlock synthesizes the calibration block injected into scoring
// prompts from the recent feedback patterns. Returns "" when no pattern
// clears the occurrence threshold, in which case the prompt carries no
// calibration section at all.
func BuildFeedbackBlock(db *store.DB, windowDays, minOccurrences int) (string, error) {
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	patterns, err := db.ListFeedbackPatterns(since, minOccurrences)
	if err != nil {
		return "", fmt.Errorf("listing feedback patterns: %w", err)
	}
	if len(patterns) == 0 {
		return "", nil
	}

	total := 0
	for _, p := range patterns {
		total += p.OccurrenceCount
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Score calibration from user feedback\n\n")
	fmt.Fprintf(&b, "%d feedback items over the last %d days produced %d recurring patterns. Treat these as calibration guidance:\n\n",
		total, windowDays, len(patterns))

	for i, p := range patterns {
		if i >= maxInsightIssues {
			break
		}
		b.WriteString("- " + describePattern(p) + "\n")
	}
	return b.String(), nil
}

// describePattern turns one aggregated pattern into a single guidance line,
// e.g. "format: consider loosening; users think scores are on average 9
// points too low (seen 3 times)".
func describePattern(p store.FeedbackPattern) string {
	dim := p.Dimension
	if dim == "" {
		dim = "overall"
	}

	var direction string
	switch p.PatternType {
	case FeedbackTooHarsh:
		direction = "consider loosening"
	case FeedbackTooLenient:
		direction = "consider tightening"
	case FeedbackMissed:
		direction = "check this dimension more thoroughly"
	case FeedbackGood:
		direction = "current calibration is confirmed by users"
	default:
		direction = "review the scoring standard"
	}

	line := fmt.Sprintf("%s: %s", dim, direction)
	if dev := p.AvgScoreDeviation; dev != 0 {
		if dev > 0 {
			line += fmt.Sprintf("; users think scores are on average %.0f points too low", math.Abs(dev))
		} else {
			line += fmt.Sprintf("; users think scores are on average %.0f points too high", math.Abs(dev))
		}
	}
	line += fmt.Sprintf(" (seen %d times)", p.OccurrenceCount)
	if p.SuggestedAdjustment != "" {
		line += " — " + p.SuggestedAdjustment
	}
	return line
}

// formatAuthorHistory renders the author's track record for the prompt.
// Empty for authors with no completed scores.
func formatAuthorHistory(hist store.AuthorHistory) string {
	if hist.Count == 0 {
		return ""
	}
	return fmt.Sprintf("%s has %d previously scored items, averaging %.1f/100 (range %d-%d), trend %s.",
		hist.Author, hist.Count, hist.AverageScore, hist.MinScore, hist.MaxScore, hist.Trend)
}
