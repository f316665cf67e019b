package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hubmon/hubmon/internal/claude"
	"github.com/hubmon/hubmon/internal/prompt"
	"github.com/hubmon/hubmon/internal/store"
)

// Feedback types mined from user feedback on scores.
const (
	FeedbackTooHarsh   = "too_harsh"
	FeedbackTooLenient = "too_lenient"
	FeedbackMissed     = "missed_issue"
	FeedbackGood       = "good_feedback"
	FeedbackUnclear    = "unclear"
	FeedbackOther      = "other"
)

// Analysis is the structured reading of one piece of user feedback.
type Analysis struct {
	Sentiment           string `json:"sentiment"`
	FeedbackType        string `json:"feedback_type"`
	Dimension           string `json:"dimension"`
	ScoreDeviation      *int   `json:"score_deviation"`
	IdentifiedIssue     string `json:"identified_issue"`
	SuggestedAdjustment string `json:"suggested_adjustment"`
}

// Keyword sets for the rule-based fallback, bilingual because the user base
// writes feedback in both English and Chinese.
var feedbackTypeKeywords = map[string][]string{
	FeedbackTooHarsh: {
		"too harsh", "too strict", "too low", "unfair",
		"太嚴格", "太嚴厲", "評分太低", "過於苛刻", "太苛刻", "太低了", "評太低",
	},
	FeedbackTooLenient: {
		"too lenient", "too generous", "too high",
		"太寬鬆", "太寬容", "評分太高", "過於寬容", "太高了", "評太高", "不夠嚴格",
	},
	FeedbackMissed: {
		"missed", "overlooked", "didn't notice", "should have pointed",
		"沒注意到", "忽略了", "漏掉了", "沒發現", "應該指出", "未提及", "沒提到",
	},
	FeedbackOther: {
		"incorrect", "wrong assessment", "misunderstood",
		"評估錯誤", "理解錯誤", "誤解", "不正確", "評估不當", "判斷錯誤",
	},
	FeedbackGood: {
		"accurate", "helpful", "spot on",
		"準確", "中肯", "很好", "有幫助", "很有用", "精準", "到位",
	},
}

var dimensionKeywords = []struct {
	dimension string
	keywords  []string
}{
	{"format", []string{"format", "formatting", "title", "格式", "排版", "標題"}},
	{"content", []string{"content", "completeness", "detail", "內容", "完整性", "詳細"}},
	{"clarity", []string{"clarity", "clear", "expression", "understanding", "清晰", "表達", "理解"}},
	{"actionability", []string{"actionable", "specific", "steps", "可操作", "具體", "步驟"}},
}

var (
	signedDeltaRe = regexp.MustCompile(`[+-]\d+`)
	higherByRe    = regexp.MustCompile(`(?i)higher\s+by\s+(\d+)`)
	lowerByRe     = regexp.MustCompile(`(?i)lower\s+by\s+(\d+)`)
	targetScoreRe = regexp.MustCompile(`(?i)(?:should\s+be(?:\s+at\s+least)?|at\s+least|應該|至少|給)\s*(\d+)|(\d+)\s*分`)
)

// analyzeFeedback reads one feedback entry, preferring an AI analysis and
// falling back to keyword rules when the CLI is unavailable or returns
// garbage. The raw feedback stays on the score record either way, so a
// failed analysis can be redone later.
func (s *Service) analyzeFeedback(ctx context.Context, rec store.ScoreRecord, feedback string) Analysis {
	p, err := prompt.RenderFeedbackAnalysis(prompt.FeedbackAnalysisData{
		FormatScore:        rec.Result.Format.Score,
		ContentScore:       rec.Result.Content.Score,
		ClarityScore:       rec.Result.Clarity.Score,
		ActionabilityScore: rec.Result.Actionability.Score,
		OverallScore:       rec.Result.OverallScore,
		Feedback:           feedback,
	})
	if err == nil {
		out, err := s.invoker.Invoke(ctx, claude.InvokeOpts{Prompt: p, Timeout: s.cfg.Timeout()})
		if err == nil {
			var analysis Analysis
			if jsonErr := json.Unmarshal([]byte(claude.ExtractJSON(out)), &analysis); jsonErr == nil &&
				analysis.FeedbackType != "" {
				return analysis
			}
		} else {
			s.logger.Warn("AI feedback analysis failed, using rule-based fallback", "error", err)
		}
	}
	return RuleBasedAnalysis(feedback, rec.Result.OverallScore)
}

// RuleBasedAnalysis derives the same structure as the AI analysis from
// keyword and number matching alone.
func RuleBasedAnalysis(feedback string, overallScore int) Analysis {
	lower := strings.ToLower(feedback)

	analysis := Analysis{
		Sentiment:       "neutral",
		FeedbackType:    FeedbackUnclear,
		Dimension:       "overall",
		IdentifiedIssue: truncateRunes(feedback, 100),
	}

	for _, typ := range []string{FeedbackTooHarsh, FeedbackTooLenient, FeedbackMissed, FeedbackOther, FeedbackGood} {
		if containsAny(lower, feedbackTypeKeywords[typ]) {
			analysis.FeedbackType = typ
			break
		}
	}
	switch analysis.FeedbackType {
	case FeedbackGood:
		analysis.Sentiment = "positive"
	case FeedbackTooHarsh, FeedbackTooLenient, FeedbackMissed, FeedbackOther:
		analysis.Sentiment = "negative"
	}

	for _, d := range dimensionKeywords {
		if containsAny(lower, d.keywords) {
			analysis.Dimension = d.dimension
			break
		}
	}

	if dev, ok := extractDeviation(feedback, overallScore); ok {
		analysis.ScoreDeviation = &dev
	}

	switch analysis.FeedbackType {
	case FeedbackTooHarsh:
		analysis.SuggestedAdjustment = "loosen the " + analysis.Dimension + " scoring standard"
	case FeedbackTooLenient:
		analysis.SuggestedAdjustment = "tighten the " + analysis.Dimension + " scoring standard"
	case FeedbackMissed:
		analysis.SuggestedAdjustment = "check the " + analysis.Dimension + " dimension more thoroughly"
	}
	return analysis
}

// extractDeviation pulls a score delta out of free text. Explicit signed
// deltas ("+10") and "higher/lower by N" phrasings are taken as-is; a bare
// target score ("should be at least 85") is converted to a delta against the
// current overall score.
func extractDeviation(feedback string, overallScore int) (int, bool) {
	if m := signedDeltaRe.FindString(feedback); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n, true
		}
	}
	if m := higherByRe.FindStringSubmatch(feedback); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	if m := lowerByRe.FindStringSubmatch(feedback); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return -n, true
		}
	}
	if m := targetScoreRe.FindStringSubmatch(feedback); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if target, err := strconv.Atoi(digits); err == nil &&
			overallScore > 0 && target != overallScore {
			return target - overallScore, true
		}
	}
	return 0, false
}

// recordAnalysis folds one analysis into the pattern store.
func (s *Service) recordAnalysis(analysis Analysis, feedback string) error {
	obs := store.PatternObservation{
		PatternType:         analysis.FeedbackType,
		Dimension:           analysis.Dimension,
		Example:             truncateRunes(feedback, 200),
		IdentifiedIssue:     analysis.IdentifiedIssue,
		SuggestedAdjustment: analysis.SuggestedAdjustment,
	}
	if obs.Dimension == "" {
		obs.Dimension = "overall"
	}
	if analysis.ScoreDeviation != nil {
		obs.ScoreDeviation = float64(*analysis.ScoreDeviation)
		obs.HasDeviation = true
	}
	_, err := s.db.RecordPatternObservation(obs)
	if err != nil {
		return fmt.Errorf("recording feedback pattern: %w", err)
	}
	return nil
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
