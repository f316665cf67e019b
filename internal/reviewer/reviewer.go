// Package reviewer turns pull_request webhooks into AI-generated reviews:
// it queues a task per PR, fetches the diff, runs the Claude CLI and posts
// the result as a PR comment.
package reviewer

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

	"github.com/hubmon/hubmon/internal/claude"
	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/github"
	"github.com/hubmon/hubmon/internal/prompt"
	"github.com/hubmon/hubmon/internal/queue"
	"github.com/hubmon/hubmon/internal/store"
	"github.com/hubmon/hubmon/internal/webhook"
)

// autoReviewLabel marks PRs that already received an automated review.
const autoReviewLabel = "auto-reviewed"

// defaultQueueSize bounds the task backlog before webhooks get 503.
const defaultQueueSize = 100

// GitHub is the subset of the GitHub client the reviewer uses.
type GitHub interface {
	FetchPR(ctx context.Context, owner, repo string, prNumber int) (github.PR, error)
	FetchPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]github.FileDiff, error)
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (github.Comment, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
}

// Invoker runs the AI CLI.
type Invoker interface {
	Invoke(ctx context.Context, opts claude.InvokeOpts) (string, error)
}

// Config holds the reviewer service dependencies.
type Config struct {
	Review  config.ReviewConfig
	DB      *store.DB
	GitHub  GitHub
	Invoker Invoker
	Workers int
	Queue   int
	Logger  *slog.Logger
}

// Service is the PR-review worker: an HTTP surface plus a worker pool.
type Service struct {
	cfg     config.ReviewConfig
	db      *store.DB
	gh      GitHub
	invoker Invoker
	logger  *slog.Logger
	pool    *queue.Pool[string]
}

// New creates the reviewer service. Start must be called before webhooks
// are accepted.
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
		cfg:     cfg.Review,
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
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id...}", s.handleGetTask)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "pr-reviewer"})
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	if event := r.Header.Get("X-GitHub-Event"); event != webhook.EventPullRequest {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported event"})
		return
	}

	ev, err := webhook.ParsePullRequestEvent(body)
	if err != nil {
		s.logger.Warn("dropping malformed pull_request event", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "malformed payload"})
		return
	}

	if reason := s.skipReason(ev); reason != "" {
		s.logger.Info("skipping pull_request event",
			"repo", ev.Repository.FullName, "pr", ev.PullRequest.Number,
			"action", ev.Action, "reason", reason)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": reason})
		return
	}

	taskID := store.ReviewTaskID(ev.Repository.FullName, ev.PullRequest.Number)
	created, err := s.db.EnqueueReviewTask(store.ReviewTask{
		Repo:     ev.Repository.FullName,
		PRNumber: ev.PullRequest.Number,
		PRTitle:  ev.PullRequest.Title,
		PRAuthor: ev.PullRequest.User.Login,
		PRURL:    ev.PullRequest.HTMLURL,
	})
	if err != nil {
		s.logger.Error("enqueueing review task", "task", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueueing task")
		return
	}
	// The pool enqueue runs even when the record already existed: a queued
	// row whose pool slot was lost (full queue on a prior delivery, or a
	// restart) gets re-armed here instead of being orphaned behind 202s.
	switch err := s.pool.Enqueue(taskID, taskID); {
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusServiceUnavailable, "review queue full")
		return
	case errors.Is(err, queue.ErrDuplicate):
		// Already in flight; the running task will fetch the latest head
		// itself.
	case err != nil:
		s.logger.Error("enqueueing review work", "task", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueueing task")
		return
	}

	if created {
		s.logger.Info("review task queued", "task", taskID, "action", ev.Action)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "task_id": taskID})
}

// skipReason returns a non-empty reason when the event should not produce a
// review.
func (s *Service) skipReason(ev webhook.PullRequestEvent) string {
	if !slices.Contains(s.cfg.Triggers, ev.Action) {
		return "action not in triggers"
	}
	if ev.PullRequest.Draft && s.cfg.SkipDraft {
		return "draft PR"
	}
	if ev.Action != "synchronize" &&
		slices.Contains(webhook.LabelNames(ev.PullRequest.Labels), autoReviewLabel) {
		return "already reviewed"
	}
	return ""
}

func (s *Service) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	tasks, err := s.db.ListReviewTasks(store.TaskFilter{
		Status: r.URL.Query().Get("status"),
		Repo:   r.URL.Query().Get("repo"),
		Limit:  limit,
	})
	if err != nil {
		s.logger.Error("listing review tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "listing tasks")
		return
	}
	stats, err := s.db.ReviewTaskStats()
	if err != nil {
		s.logger.Error("counting review tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "counting tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": taskViews(tasks),
		"stats": stats,
	})
}

func (s *Service) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.db.GetReviewTask(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("getting review task", "error", err)
		writeError(w, http.StatusInternalServerError, "getting task")
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(task))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.ReviewTaskStats()
	if err != nil {
		s.logger.Error("counting review tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "counting tasks")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// process drives one review task to a terminal state.
func (s *Service) process(ctx context.Context, taskID string) {
	task, err := s.db.GetReviewTask(taskID)
	if err != nil {
		s.logger.Error("loading review task", "task", taskID, "error", err)
		return
	}
	if store.TaskTerminal(task.Status) {
		return
	}
	owner, repo, err := github.SplitRepo(task.Repo)
	if err != nil {
		s.fail(taskID, err.Error())
		return
	}

	s.update(taskID, store.TaskProcessing, 10, "Fetching PR diff")

	pr, err := s.gh.FetchPR(ctx, owner, repo, task.PRNumber)
	if err != nil {
		s.fail(taskID, fmt.Sprintf("fetching PR: %v", err))
		return
	}
	files, err := s.gh.FetchPRFiles(ctx, owner, repo, task.PRNumber)
	if err != nil {
		s.fail(taskID, fmt.Sprintf("fetching PR files: %v", err))
		return
	}

	prompt, err := s.buildPrompt(task.Repo, pr, files)
	if err != nil {
		s.fail(taskID, fmt.Sprintf("building prompt: %v", err))
		return
	}

	s.update(taskID, store.TaskProcessing, 50, "Running AI review")

	review, err := s.invoker.Invoke(ctx, claude.InvokeOpts{
		Prompt:  prompt,
		Timeout: s.cfg.Timeout(),
	})
	if err != nil {
		s.fail(taskID, fmt.Sprintf("AI review: %v", err))
		return
	}
	if strings.TrimSpace(review) == "" {
		s.fail(taskID, "AI review produced empty output")
		return
	}

	s.update(taskID, store.TaskProcessing, 80, "Posting review comment")

	comment := review + "\n\n---\n*Automatically reviewed by Claude AI @ " +
		time.Now().UTC().Format("2006-01-02 15:04:05") + " UTC*"
	if _, err := s.gh.PostIssueComment(ctx, owner, repo, task.PRNumber, comment); err != nil {
		s.fail(taskID, fmt.Sprintf("posting review comment: %v", err))
		return
	}

	if s.cfg.AutoLabel {
		if err := s.gh.AddLabels(ctx, owner, repo, task.PRNumber, []string{autoReviewLabel}); err != nil {
			// Label failure does not invalidate the posted review.
			s.logger.Warn("adding auto-review label", "task", taskID, "error", err)
		}
	}

	if err := s.db.CompleteReviewTask(taskID, review); err != nil {
		s.logger.Error("completing review task", "task", taskID, "error", err)
		return
	}
	s.logger.Info("review completed", "task", taskID)
}

// buildPrompt assembles the review prompt, truncating the diff to the
// configured character budget.
func (s *Service) buildPrompt(repoFull string, pr github.PR, files []github.FileDiff) (string, error) {
	budget := s.cfg.MaxDiffChars
	var sections []prompt.FileSection
	used := 0
	truncated := false
	for _, f := range files {
		patch := f.Patch
		if used+len(patch) > budget {
			remaining := budget - used
			if remaining <= 0 {
				truncated = true
				break
			}
			patch = patch[:remaining]
			truncated = true
		}
		used += len(patch)
		sections = append(sections, prompt.FileSection{
			Filename: f.Filename,
			Status:   f.Status,
			Patch:    patch,
		})
		if truncated {
			break
		}
	}
	return prompt.RenderReview(prompt.ReviewData{
		Repo:       repoFull,
		PRNumber:   pr.Number,
		Title:      pr.Title,
		Author:     pr.Author,
		Body:       pr.Body,
		FocusAreas: s.cfg.FocusAreas,
		Language:   s.cfg.Language,
		Files:      sections,
		Truncated:  truncated,
	})
}

func (s *Service) update(taskID, status string, progress int, message string) {
	if err := s.db.UpdateReviewProgress(taskID, status, progress, message); err != nil {
		s.logger.Error("updating review progress", "task", taskID, "error", err)
	}
}

func (s *Service) fail(taskID, message string) {
	s.logger.Warn("review failed", "task", taskID, "error", message)
	if err := s.db.FailReviewTask(taskID, message); err != nil {
		s.logger.Error("marking review failed", "task", taskID, "error", err)
	}
}

// taskView is the JSON shape of a review task.
type taskView struct {
	TaskID        string `json:"task_id"`
	Repo          string `json:"repo"`
	PRNumber      int    `json:"pr_number"`
	PRTitle       string `json:"pr_title"`
	PRAuthor      string `json:"pr_author"`
	PRURL         string `json:"pr_url"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Message       string `json:"message"`
	ErrorMessage  string `json:"error_message,omitempty"`
	ReviewContent string `json:"review_content,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func newTaskView(t store.ReviewTask) taskView {
	v := taskView{
		TaskID:        t.TaskID,
		Repo:          t.Repo,
		PRNumber:      t.PRNumber,
		PRTitle:       t.PRTitle,
		PRAuthor:      t.PRAuthor,
		PRURL:         t.PRURL,
		Status:        t.Status,
		Progress:      t.Progress,
		Message:       t.Message,
		ErrorMessage:  t.ErrorMessage,
		ReviewContent: t.ReviewContent,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     t.UpdatedAt.Format(time.RFC3339),
	}
	if !t.CompletedAt.IsZero() {
		v.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	return v
}

func taskViews(tasks []store.ReviewTask) []taskView {
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t))
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
