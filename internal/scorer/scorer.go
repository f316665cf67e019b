// Package scorer scores issues and comments on the configured repositories
// along four quality dimensions, posts the result as a comment, and learns
// from user feedback on past scores: feedback is mined into patterns whose
// aggregate deviations are injected back into future scoring prompts.
package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hubmon/hubmon/internal/claude"
	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/github"
	"github.com/hubmon/hubmon/internal/prompt"
	"github.com/hubmon/hubmon/internal/queue"
	"github.com/hubmon/hubmon/internal/store"
	"github.com/hubmon/hubmon/internal/webhook"
)

// scoreMarker tags our own score comments so their webhooks are never
// scored in turn.
const scoreMarker = "<!-- hubmon-score -->"

const defaultQueueSize = 100

// GitHub is the subset of the GitHub client the scorer uses.
type GitHub interface {
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (github.Comment, error)
}

// Invoker runs the AI CLI.
type Invoker interface {
	Invoke(ctx context.Context, opts claude.InvokeOpts) (string, error)
}

// Config holds the scorer service dependencies.
type Config struct {
	Scoring config.ScoringConfig
	DB      *store.DB
	GitHub  GitHub
	Invoker Invoker
	Workers int
	Queue   int
	Logger  *slog.Logger
}

type jobKind int

const (
	jobScore jobKind = iota
	jobAnalyzeFeedback
)

type job struct {
	kind     jobKind
	recordID string

	// Score jobs carry the content to score; it is not persisted.
	body   string
	labels []string

	// Analyze jobs carry the feedback text to mine.
	feedback string
}

// Service is the issue-scorer worker.
type Service struct {
	cfg     config.ScoringConfig
	db      *store.DB
	gh      GitHub
	invoker Invoker
	logger  *slog.Logger
	pool    *queue.Pool[job]
}

// New creates the scorer service. Start must be called before webhooks are
// accepted.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	capacity := cfg.Queue
	if capacity <= 0 {
		capacity = defaultQueueSize
	}

	s := &Service{
		cfg:     cfg.Scoring,
		db:      cfg.DB,
		gh:      cfg.GitHub,
		invoker: cfg.Invoker,
		logger:  logger,
	}
	s.pool = queue.New(workers, capacity, s.process, logger)
	return s
}

// Start launches the worker pool.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Wait blocks until the pool has drained after context cancellation.
func (s *Service) Wait() {
	s.pool.Wait()
}

// Routes returns the worker's HTTP mux.
func (s *Service) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /api/scores", s.handleListScores)
	mux.HandleFunc("GET /api/scores/{id}", s.handleGetScore)
	mux.HandleFunc("POST /api/scores/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("POST /api/scores/{id}/ignore", s.handleIgnore)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/authors/{login}", s.handleAuthorHistory)
	mux.HandleFunc("GET /api/feedback/patterns", s.handleListPatterns)
	mux.HandleFunc("GET /api/feedback/snapshots", s.handleListSnapshots)
	mux.HandleFunc("POST /api/feedback/snapshot", s.handleCreateSnapshot)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "issue-scorer"})
}

// repoTargeted reports whether the repo matches any configured target
// pattern. Patterns use doublestar globs, so "Acme/*" covers a whole org.
func (s *Service) repoTargeted(repo string) bool {
	for _, pattern := range s.cfg.TargetRepos {
		if ok, err := doublestar.Match(pattern, repo); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	if !s.cfg.Enabled {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "scorer disabled"})
		return
	}

	switch r.Header.Get("X-GitHub-Event") {
	case webhook.EventIssues:
		s.handleIssuesEvent(w, body)
	case webhook.EventIssueComment:
		s.handleCommentEvent(w, body)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported event"})
	}
}

func (s *Service) handleIssuesEvent(w http.ResponseWriter, body []byte) {
	ev, err := webhook.ParseIssuesEvent(body)
	if err != nil {
		s.logger.Warn("dropping malformed issues event", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "malformed payload"})
		return
	}

	if !s.repoTargeted(ev.Repository.FullName) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "repository not targeted"})
		return
	}
	if ev.Issue.PullRequest != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "pull request, not an issue"})
		return
	}

	// Title edits propagate to existing score records so dashboards stay
	// current, independent of the scoring triggers.
	if ev.Action == "edited" {
		n, err := s.db.RefreshScoreTitles(ev.Repository.FullName, ev.Issue.Number, ev.Issue.Title)
		if err != nil {
			s.logger.Error("refreshing score titles", "issue", ev.Issue.Number, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "records": n})
		return
	}

	if !slices.Contains(s.cfg.Triggers, ev.Action) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "action not in triggers"})
		return
	}

	s.enqueueScore(w, scoreRequest{
		repo:        ev.Repository.FullName,
		issueNumber: ev.Issue.Number,
		contentType: DetectContentType(ev.Issue.Title, ev.Issue.Body),
		title:       ev.Issue.Title,
		body:        ev.Issue.Body,
		author:      ev.Issue.User.Login,
		url:         ev.Issue.HTMLURL,
		labels:      webhook.LabelNames(ev.Issue.Labels),
	})
}

func (s *Service) handleCommentEvent(w http.ResponseWriter, body []byte) {
	ev, err := webhook.ParseIssueCommentEvent(body)
	if err != nil {
		s.logger.Warn("dropping malformed issue_comment event", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "malformed payload"})
		return
	}

	if !s.repoTargeted(ev.Repository.FullName) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "repository not targeted"})
		return
	}
	if !slices.Contains(s.cfg.CommentTriggers, ev.Action) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "action not in triggers"})
		return
	}
	if ev.Issue.PullRequest != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "pull request comment"})
		return
	}
	if ev.Comment.User.Bot() || strings.Contains(ev.Comment.Body, scoreMarker) {
		// Never score our own score comments; that would loop forever.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "bot comment"})
		return
	}

	s.enqueueScore(w, scoreRequest{
		repo:        ev.Repository.FullName,
		issueNumber: ev.Issue.Number,
		commentID:   ev.Comment.ID,
		contentType: prompt.TypeComment,
		title:       ev.Issue.Title,
		body:        ev.Comment.Body,
		author:      ev.Comment.User.Login,
		url:         ev.Comment.HTMLURL,
	})
}

type scoreRequest struct {
	repo        string
	issueNumber int
	commentID   int64
	contentType string
	title       string
	body        string
	author      string
	url         string
	labels      []string
}

func (s *Service) enqueueScore(w http.ResponseWriter, req scoreRequest) {
	rec, err := s.db.CreateScoreRecord(store.ScoreRecord{
		Repo:        req.repo,
		IssueNumber: req.issueNumber,
		CommentID:   req.commentID,
		ContentType: req.contentType,
		Title:       req.title,
		Author:      req.author,
		IssueURL:    req.url,
	})
	if errors.Is(err, store.ErrDuplicate) {
		rec, err = s.requeueableScore(req)
		if err != nil {
			// Completed or mid-processing; the existing record owns this
			// content and no second comment is ever posted.
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "reason": "already scored"})
			return
		}
	} else if err != nil {
		s.logger.Error("creating score record",
			"repo", req.repo, "issue", req.issueNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "creating score record")
		return
	}

	err = s.pool.Enqueue(rec.ID, job{kind: jobScore, recordID: rec.ID, body: req.body, labels: req.labels})
	switch {
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusServiceUnavailable, "score queue full")
		return
	case err != nil && !errors.Is(err, queue.ErrDuplicate):
		s.logger.Error("enqueueing score", "record", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueueing score")
		return
	}

	s.logger.Info("score queued",
		"repo", req.repo, "issue", req.issueNumber,
		"comment", req.commentID, "type", req.contentType)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "score_id": rec.ID})
}

// requeueableScore returns the existing record for the content when scoring
// can still run: a failed record is reset to queued, and a queued record is
// handed back as-is so the pool enqueue re-arms it after a full-queue 503 or
// a restart dropped its slot. Completed and processing records are final.
func (s *Service) requeueableScore(req scoreRequest) (store.ScoreRecord, error) {
	rec, err := s.db.FindScoreByContent(req.repo, req.issueNumber, req.commentID)
	if err != nil {
		return store.ScoreRecord{}, err
	}
	switch rec.Status {
	case store.TaskQueued:
		return rec, nil
	case store.TaskFailed:
		return s.db.ResetScoreRecord(rec.ID)
	}
	return store.ScoreRecord{}, fmt.Errorf("score already %s", rec.Status)
}

func (s *Service) process(ctx context.Context, j job) {
	switch j.kind {
	case jobScore:
		s.score(ctx, j)
	case jobAnalyzeFeedback:
		s.analyze(ctx, j)
	}
}

// score drives one scoring task: prompt assembly with feedback calibration,
// CLI invocation, tolerant parsing with one strict reprompt, validation, and
// the score comment.
func (s *Service) score(ctx context.Context, j job) {
	rec, err := s.db.GetScoreRecord(j.recordID)
	if err != nil {
		s.logger.Error("loading score record", "record", j.recordID, "error", err)
		return
	}
	if rec.Status != store.TaskQueued {
		return
	}
	if err := s.db.MarkScoreProcessing(rec.ID); err != nil {
		s.logger.Error("marking score processing", "record", rec.ID, "error", err)
		return
	}

	p, err := s.buildPrompt(rec, j.body, j.labels)
	if err != nil {
		s.fail(rec.ID, fmt.Sprintf("building prompt: %v", err))
		return
	}

	out, err := s.invoker.Invoke(ctx, claude.InvokeOpts{Prompt: p, Timeout: s.cfg.Timeout()})
	if err != nil {
		s.fail(rec.ID, fmt.Sprintf("AI scoring: %v", err))
		return
	}

	result, err := parseScoreResult(out)
	if err != nil {
		// One strict reprompt before giving up.
		reprompt, rerr := prompt.RenderStrictJSONReprompt(out)
		if rerr != nil {
			s.fail(rec.ID, fmt.Sprintf("building reprompt: %v", rerr))
			return
		}
		out, rerr = s.invoker.Invoke(ctx, claude.InvokeOpts{Prompt: reprompt, Timeout: s.cfg.Timeout()})
		if rerr != nil {
			s.fail(rec.ID, fmt.Sprintf("AI scoring reprompt: %v", rerr))
			return
		}
		result, err = parseScoreResult(out)
		if err != nil {
			s.fail(rec.ID, fmt.Sprintf("parsing score response: %v", err))
			return
		}
	}

	result = validateResult(result)

	if s.cfg.AutoComment {
		owner, repo, err := github.SplitRepo(rec.Repo)
		if err != nil {
			s.fail(rec.ID, err.Error())
			return
		}
		comment := formatScoreComment(rec, result)
		if _, err := s.gh.PostIssueComment(ctx, owner, repo, rec.IssueNumber, comment); err != nil {
			s.fail(rec.ID, fmt.Sprintf("posting score comment: %v", err))
			return
		}
	}

	if err := s.db.CompleteScore(rec.ID, result); err != nil {
		s.logger.Error("completing score", "record", rec.ID, "error", err)
		return
	}
	s.logger.Info("score completed",
		"repo", rec.Repo, "issue", rec.IssueNumber,
		"type", rec.ContentType, "overall", result.OverallScore)
}

func (s *Service) buildPrompt(rec store.ScoreRecord, body string, labels []string) (string, error) {
	feedbackBlock, err := BuildFeedbackBlock(s.db, s.cfg.FeedbackWindowDays, s.cfg.FeedbackMinOccurrence)
	if err != nil {
		s.logger.Warn("building feedback block; scoring without calibration", "error", err)
		feedbackBlock = ""
	}

	history := ""
	if hist, err := s.db.AuthorScoreHistory(rec.Author, 5); err == nil {
		history = formatAuthorHistory(hist)
	}

	return prompt.RenderScore(rec.ContentType, prompt.ScoreData{
		Repo:          rec.Repo,
		IssueNumber:   rec.IssueNumber,
		Title:         rec.Title,
		Body:          body,
		Author:        rec.Author,
		Labels:        labels,
		Language:      s.cfg.Language,
		FeedbackBlock: feedbackBlock,
		AuthorHistory: history,
	})
}

// analyze mines one feedback entry into the pattern store.
func (s *Service) analyze(ctx context.Context, j job) {
	rec, err := s.db.GetScoreRecord(j.recordID)
	if err != nil {
		s.logger.Error("loading score record for analysis", "record", j.recordID, "error", err)
		return
	}

	analysis := s.analyzeFeedback(ctx, rec, j.feedback)
	if err := s.recordAnalysis(analysis, j.feedback); err != nil {
		// The raw feedback is already on the record; analysis can rerun.
		s.logger.Error("recording feedback analysis", "record", rec.ID, "error", err)
		return
	}
	s.logger.Info("feedback analyzed",
		"record", rec.ID, "type", analysis.FeedbackType, "dimension", analysis.Dimension)
}

func (s *Service) fail(recordID, message string) {
	s.logger.Warn("scoring failed", "record", recordID, "error", message)
	if err := s.db.FailScore(recordID, message); err != nil {
		s.logger.Error("marking score failed", "record", recordID, "error", err)
	}
}

// parseScoreResult decodes the CLI's JSON, tolerating surrounding prose and
// fenced code blocks, and a suggestions field that is either a string or a
// list.
func parseScoreResult(out string) (store.ScoreResult, error) {
	raw := struct {
		Format        store.DimensionScore `json:"format"`
		Content       store.DimensionScore `json:"content"`
		Clarity       store.DimensionScore `json:"clarity"`
		Actionability store.DimensionScore `json:"actionability"`
		OverallScore  int                  `json:"overall_score"`
		Suggestions   json.RawMessage      `json:"suggestions"`
	}{}
	if err := json.Unmarshal([]byte(claude.ExtractJSON(out)), &raw); err != nil {
		return store.ScoreResult{}, fmt.Errorf("decoding score JSON: %w", err)
	}

	result := store.ScoreResult{
		Format:        raw.Format,
		Content:       raw.Content,
		Clarity:       raw.Clarity,
		Actionability: raw.Actionability,
		OverallScore:  raw.OverallScore,
	}

	if len(raw.Suggestions) > 0 {
		var list []string
		if err := json.Unmarshal(raw.Suggestions, &list); err == nil {
			result.Suggestions = list
		} else {
			var single string
			if err := json.Unmarshal(raw.Suggestions, &single); err == nil && single != "" {
				result.Suggestions = []string{single}
			}
		}
	}
	return result, nil
}

// validateResult clamps every dimension to [0,100] and sanity-checks the
// overall: it must lie within [min,max] of the dimensions with 10 points of
// slack, otherwise it is replaced by their mean.
func validateResult(r store.ScoreResult) store.ScoreResult {
	r.Format.Score = clamp(r.Format.Score)
	r.Content.Score = clamp(r.Content.Score)
	r.Clarity.Score = clamp(r.Clarity.Score)
	r.Actionability.Score = clamp(r.Actionability.Score)
	r.OverallScore = clamp(r.OverallScore)

	dims := []int{r.Format.Score, r.Content.Score, r.Clarity.Score, r.Actionability.Score}
	lo, hi := dims[0], dims[0]
	sum := 0
	for _, d := range dims {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
		sum += d
	}
	if r.OverallScore < lo-10 || r.OverallScore > hi+10 {
		r.OverallScore = (sum + len(dims)/2) / len(dims)
	}
	return r
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// formatScoreComment renders the score comment posted on the issue.
func formatScoreComment(rec store.ScoreRecord, r store.ScoreResult) string {
	var b strings.Builder
	b.WriteString(scoreMarker + "\n")
	fmt.Fprintf(&b, "@%s\n\n", rec.Author)

	label := "Issue"
	if rec.ContentType == prompt.TypeComment {
		label = "Comment"
	}
	fmt.Fprintf(&b, "## %s quality score\n\n", label)
	fmt.Fprintf(&b, "**Scored content**: %s\n\n", rec.IssueURL)
	b.WriteString("| Dimension | Score | Feedback |\n")
	b.WriteString("|-----------|-------|----------|\n")
	fmt.Fprintf(&b, "| Format | **%d/100** | %s |\n", r.Format.Score, cellText(r.Format.Feedback))
	fmt.Fprintf(&b, "| Content | **%d/100** | %s |\n", r.Content.Score, cellText(r.Content.Feedback))
	fmt.Fprintf(&b, "| Clarity | **%d/100** | %s |\n", r.Clarity.Score, cellText(r.Clarity.Feedback))
	fmt.Fprintf(&b, "| Actionability | **%d/100** | %s |\n", r.Actionability.Score, cellText(r.Actionability.Feedback))
	fmt.Fprintf(&b, "\n### Overall: **%d/100**\n", r.OverallScore)

	if len(r.Suggestions) > 0 {
		b.WriteString("\n### Suggestions\n\n")
		for _, sug := range r.Suggestions {
			b.WriteString("- " + sug + "\n")
		}
	}
	b.WriteString("\n---\n*Scored automatically by Claude AI*\n")
	return b.String()
}

// cellText keeps a feedback string table-safe.
func cellText(s string) string {
	if s == "" {
		return "N/A"
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

func (s *Service) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Feedback) == "" {
		writeError(w, http.StatusBadRequest, "feedback text required")
		return
	}

	if _, err := s.db.GetScoreRecord(id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "score not found")
		return
	} else if err != nil {
		s.logger.Error("loading score record", "record", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading score")
		return
	}

	if err := s.db.AppendScoreFeedback(id, req.Feedback); err != nil {
		s.logger.Error("appending feedback", "record", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storing feedback")
		return
	}

	// Analysis runs off the request path; feedback is preserved on the
	// record even if the analyzer never gets to it.
	err := s.pool.Enqueue("", job{kind: jobAnalyzeFeedback, recordID: id, feedback: req.Feedback})
	if err != nil {
		s.logger.Warn("feedback analysis not queued; raw feedback kept for re-analysis",
			"record", id, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "score_id": id})
}

func (s *Service) handleIgnore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Ignored bool `json:"ignored"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.db.SetScoreIgnored(id, req.Ignored); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "score not found")
		return
	} else if err != nil {
		s.logger.Error("toggling score ignore", "record", id, "error", err)
		writeError(w, http.StatusInternalServerError, "updating score")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "ignored": req.Ignored})
}

func (s *Service) handleListScores(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.db.ListScoreRecords(store.ScoreFilter{
		Repo:        r.URL.Query().Get("repo"),
		Status:      r.URL.Query().Get("status"),
		ContentType: r.URL.Query().Get("content_type"),
		Author:      r.URL.Query().Get("author"),
		Limit:       limit,
	})
	if err != nil {
		s.logger.Error("listing scores", "error", err)
		writeError(w, http.StatusInternalServerError, "listing scores")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scoreViews(records)})
}

func (s *Service) handleGetScore(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.GetScoreRecord(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "score not found")
		return
	}
	if err != nil {
		s.logger.Error("getting score", "error", err)
		writeError(w, http.StatusInternalServerError, "getting score")
		return
	}
	writeJSON(w, http.StatusOK, newScoreView(rec))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.ScoreRecordStats()
	if err != nil {
		s.logger.Error("counting scores", "error", err)
		writeError(w, http.StatusInternalServerError, "counting scores")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleAuthorHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.db.AuthorScoreHistory(r.PathValue("login"), 10)
	if err != nil {
		s.logger.Error("reading author history", "error", err)
		writeError(w, http.StatusInternalServerError, "reading history")
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Service) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -s.cfg.FeedbackWindowDays)
	patterns, err := s.db.ListFeedbackPatterns(since, 1)
	if err != nil {
		s.logger.Error("listing feedback patterns", "error", err)
		writeError(w, http.StatusInternalServerError, "listing patterns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func (s *Service) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.db.ListFeedbackSnapshots(30)
	if err != nil {
		s.logger.Error("listing feedback snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, "listing snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

// handleCreateSnapshot aggregates the last 24 hours of feedback into a
// persisted snapshot. Meant for periodic invocation; scoring does not depend
// on it.
func (s *Service) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	scores, err := s.db.ListScoresWithFeedback(since)
	if err != nil {
		s.logger.Error("reading feedback for snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "reading feedback")
		return
	}

	total, positive, negative, neutral := 0, 0, 0, 0
	for _, rec := range scores {
		for _, entry := range rec.FeedbackEntries() {
			total++
			switch RuleBasedAnalysis(entry, rec.Result.OverallScore).Sentiment {
			case "positive":
				positive++
			case "negative":
				negative++
			default:
				neutral++
			}
		}
	}
	if total == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": "no feedback in the last 24h"})
		return
	}

	windowStart := time.Now().UTC().AddDate(0, 0, -s.cfg.FeedbackWindowDays)
	patterns, err := s.db.ListFeedbackPatterns(windowStart, s.cfg.FeedbackMinOccurrence)
	if err != nil {
		s.logger.Error("listing patterns for snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "listing patterns")
		return
	}

	var topIssues, insights, adjustments []string
	for _, p := range patterns {
		if p.IdentifiedIssue != "" {
			topIssues = append(topIssues, fmt.Sprintf("%s (seen %d times)", p.IdentifiedIssue, p.OccurrenceCount))
		}
		insights = append(insights, describePattern(p))
		if p.SuggestedAdjustment != "" {
			adjustments = append(adjustments, p.SuggestedAdjustment)
		}
	}

	snap, err := s.db.CreateFeedbackSnapshot(store.FeedbackSnapshot{
		TotalFeedbacks:    total,
		Positive:          positive,
		Negative:          negative,
		Neutral:           neutral,
		TopIssues:         topIssues,
		LearningInsights:  insights,
		PromptAdjustments: adjustments,
	})
	if err != nil {
		s.logger.Error("creating feedback snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "creating snapshot")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// scoreView is the JSON shape of a score record.
type scoreView struct {
	ID           string            `json:"id"`
	Repo         string            `json:"repo"`
	IssueNumber  int               `json:"issue_number"`
	CommentID    int64             `json:"comment_id,omitempty"`
	ContentType  string            `json:"content_type"`
	Title        string            `json:"title"`
	Author       string            `json:"author"`
	IssueURL     string            `json:"issue_url"`
	Status       string            `json:"status"`
	Result       store.ScoreResult `json:"result"`
	UserFeedback []string          `json:"user_feedback,omitempty"`
	Ignored      bool              `json:"ignored"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    string            `json:"created_at"`
	CompletedAt  string            `json:"completed_at,omitempty"`
}

func newScoreView(rec store.ScoreRecord) scoreView {
	v := scoreView{
		ID:           rec.ID,
		Repo:         rec.Repo,
		IssueNumber:  rec.IssueNumber,
		CommentID:    rec.CommentID,
		ContentType:  rec.ContentType,
		Title:        rec.Title,
		Author:       rec.Author,
		IssueURL:     rec.IssueURL,
		Status:       rec.Status,
		Result:       rec.Result,
		UserFeedback: rec.FeedbackEntries(),
		Ignored:      rec.Ignored,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
	if !rec.CompletedAt.IsZero() {
		v.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
	}
	return v
}

func scoreViews(records []store.ScoreRecord) []scoreView {
	views := make([]scoreView, 0, len(records))
	for _, rec := range records {
		views = append(views, newScoreView(rec))
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
