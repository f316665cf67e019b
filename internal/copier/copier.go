// Package copier replicates issues from a configured source repo into
// target repos chosen by label, re-hosts image content, mirrors comments and
// rewrites issue references so cross-repo links keep resolving.
package copier

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
	"sync"
	"time"

	"github.com/hubmon/hubmon/internal/config"
	"github.com/hubmon/hubmon/internal/github"
	"github.com/hubmon/hubmon/internal/queue"
	"github.com/hubmon/hubmon/internal/store"
	"github.com/hubmon/hubmon/internal/webhook"
)

// assetsBranch holds re-hosted images in each target repo.
const assetsBranch = "assets"

const defaultQueueSize = 200

// GitHub is the subset of the GitHub client the copier uses.
type GitHub interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (github.Issue, error)
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) (github.Comment, error)
	ListRepoLabels(ctx context.Context, owner, repo string) ([]string, error)
	EnsureBranch(ctx context.Context, owner, repo, branch string) (string, error)
	UploadFile(ctx context.Context, owner, repo, branch, path, message string, content []byte) (string, error)
	DownloadBytes(ctx context.Context, rawURL string) ([]byte, error)
}

// Config holds the copier service dependencies.
type Config struct {
	Copy    config.CopyConfig
	DB      *store.DB
	GitHub  GitHub
	Workers int
	Queue   int
	Logger  *slog.Logger
}

type jobKind int

const (
	jobCopyIssue jobKind = iota
	jobMirrorComment
)

// job is one unit of pool work: either one (issue, target repo) replication
// or one (comment, target issue) mirror. Targets of the same event run in
// parallel subject to the pool size.
type job struct {
	kind     jobKind
	recordID string
	issue    webhook.Issue
	comment  webhook.Comment
}

// Service is the issue-copier worker.
type Service struct {
	cfg    config.CopyConfig
	db     *store.DB
	gh     GitHub
	logger *slog.Logger
	pool   *queue.Pool[job]

	warnMissingSource sync.Once
}

// New creates the copier service. Start must be called before webhooks are
// accepted.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	capacity := cfg.Queue
	if capacity <= 0 {
		capacity = defaultQueueSize
	}

	s := &Service{
		cfg:    cfg.Copy,
		db:     cfg.DB,
		gh:     cfg.GitHub,
		logger: logger,
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
	mux.HandleFunc("GET /api/issue-copies", s.handleListCopies)
	mux.HandleFunc("GET /api/issue-copies/stats", s.handleStats)
	mux.HandleFunc("GET /api/comment-syncs", s.handleListSyncs)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "issue-copier"})
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	if !s.cfg.Enabled {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "copier disabled"})
		return
	}
	if s.cfg.SourceRepo == "" {
		s.warnMissingSource.Do(func() {
			s.logger.Warn("issue_copy.source_repo is not configured; all events are no-ops")
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "source repo not configured"})
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

	if ev.Repository.FullName != s.cfg.SourceRepo {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not the source repository"})
		return
	}
	if !slices.Contains(s.cfg.Triggers, ev.Action) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "action not in triggers"})
		return
	}
	if ev.Issue.PullRequest != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "pull request, not an issue"})
		return
	}

	labels := webhook.LabelNames(ev.Issue.Labels)
	targets := s.resolveTargets(labels)
	if len(targets) == 0 {
		s.logger.Info("no target repository for issue",
			"issue", ev.Issue.Number, "labels", labels)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "no matching target repositories"})
		return
	}

	queued := 0
	for _, target := range targets {
		rec, err := s.db.CreateCopyRecord(store.CopyRecord{
			SourceRepo:        ev.Repository.FullName,
			SourceIssueNumber: ev.Issue.Number,
			SourceIssueTitle:  ev.Issue.Title,
			SourceIssueURL:    ev.Issue.HTMLURL,
			SourceLabels:      labels,
			TargetRepo:        target,
		})
		if errors.Is(err, store.ErrDuplicate) {
			rec, err = s.retryableRecord(ev.Repository.FullName, ev.Issue.Number, target)
			if err != nil {
				// Already copied.
				continue
			}
		} else if err != nil {
			s.logger.Error("creating copy record",
				"issue", ev.Issue.Number, "target", target, "error", err)
			writeError(w, http.StatusInternalServerError, "creating copy record")
			return
		}

		err = s.pool.Enqueue(rec.ID, job{kind: jobCopyIssue, recordID: rec.ID, issue: ev.Issue})
		switch {
		case errors.Is(err, queue.ErrFull):
			writeError(w, http.StatusServiceUnavailable, "copy queue full")
			return
		case errors.Is(err, queue.ErrDuplicate):
			continue
		case err != nil:
			s.logger.Error("enqueueing copy", "record", rec.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "enqueueing copy")
			return
		}
		queued++
	}

	s.logger.Info("issue copy queued",
		"issue", ev.Issue.Number, "targets", targets, "queued", queued)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"source_issue": fmt.Sprintf("%s#%d", ev.Repository.FullName, ev.Issue.Number),
		"target_repos": targets,
		"queued":       queued,
	})
}

// retryableRecord returns the existing record for the triple when the copy
// can still run: a failed record is reset to pending, and a pending record is
// handed back as-is so the pool enqueue below re-arms it (a pending row loses
// its pool slot when the queue was full on a prior delivery, or across a
// restart). Success or partial means the copy already happened.
func (s *Service) retryableRecord(sourceRepo string, issueNumber int, target string) (store.CopyRecord, error) {
	rec, err := s.db.FindCopyRecord(sourceRepo, issueNumber, target)
	if err != nil {
		return store.CopyRecord{}, err
	}
	switch rec.Status {
	case store.CopyPending:
		return rec, nil
	case store.CopyFailed:
		return s.db.ResetCopyRecord(rec.ID)
	}
	return store.CopyRecord{}, fmt.Errorf("copy already %s", rec.Status)
}

func (s *Service) handleCommentEvent(w http.ResponseWriter, body []byte) {
	ev, err := webhook.ParseIssueCommentEvent(body)
	if err != nil {
		s.logger.Warn("dropping malformed issue_comment event", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "malformed payload"})
		return
	}

	if ev.Repository.FullName != s.cfg.SourceRepo {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not the source repository"})
		return
	}
	if ev.Action != "created" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "not a created comment"})
		return
	}
	if ev.Issue.PullRequest != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "pull request, not an issue"})
		return
	}
	if ev.Comment.User.Bot() {
		// Our own "copied to" comments come back as webhooks; mirroring them
		// would loop.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "bot comment"})
		return
	}

	copies, err := s.db.FindCopiesOfIssue(ev.Repository.FullName, ev.Issue.Number)
	if err != nil {
		s.logger.Error("finding copies of issue", "issue", ev.Issue.Number, "error", err)
		writeError(w, http.StatusInternalServerError, "finding copies")
		return
	}
	if len(copies) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "no copied issues found"})
		return
	}

	queued := 0
	for _, cp := range copies {
		cs, err := s.db.CreateCommentSync(store.CommentSync{
			SourceCommentID:   ev.Comment.ID,
			SourceRepo:        ev.Repository.FullName,
			SourceIssueNumber: ev.Issue.Number,
			TargetRepo:        cp.TargetRepo,
			TargetIssueNumber: cp.TargetIssueNumber,
			Author:            ev.Comment.User.Login,
		})
		if errors.Is(err, store.ErrDuplicate) {
			// A pending sync without a pool slot is re-armed by the enqueue
			// below; anything else already ran.
			cs, err = s.db.FindCommentSync(ev.Comment.ID, cp.TargetRepo, cp.TargetIssueNumber)
			if err != nil || cs.Status != store.CopyPending {
				continue
			}
		} else if err != nil {
			s.logger.Error("creating comment sync",
				"comment", ev.Comment.ID, "target", cp.TargetRepo, "error", err)
			writeError(w, http.StatusInternalServerError, "creating comment sync")
			return
		}

		err = s.pool.Enqueue(cs.ID, job{kind: jobMirrorComment, recordID: cs.ID, comment: ev.Comment})
		switch {
		case errors.Is(err, queue.ErrFull):
			writeError(w, http.StatusServiceUnavailable, "copy queue full")
			return
		case errors.Is(err, queue.ErrDuplicate):
			continue
		case err != nil:
			s.logger.Error("enqueueing comment mirror", "sync", cs.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "enqueueing comment mirror")
			return
		}
		queued++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"source_issue": fmt.Sprintf("%s#%d", ev.Repository.FullName, ev.Issue.Number),
		"targets":      len(copies),
		"queued":       queued,
	})
}

// resolveTargets maps issue labels to target repos via the configured
// label_to_repo table, deduplicated in label order, falling back to the
// default target when nothing matches.
func (s *Service) resolveTargets(labels []string) []string {
	var targets []string
	for _, label := range labels {
		repo, ok := s.cfg.LabelToRepo[label]
		if !ok || slices.Contains(targets, repo) {
			continue
		}
		targets = append(targets, repo)
	}
	if len(targets) == 0 && s.cfg.DefaultTargetRepo != "" {
		targets = append(targets, s.cfg.DefaultTargetRepo)
	}
	return targets
}

func (s *Service) process(ctx context.Context, j job) {
	switch j.kind {
	case jobCopyIssue:
		s.copyIssue(ctx, j)
	case jobMirrorComment:
		s.mirrorComment(ctx, j)
	}
}

// copyIssue replicates one source issue into one target repo and records the
// outcome on the copy record.
func (s *Service) copyIssue(ctx context.Context, j job) {
	rec, err := s.db.GetCopyRecord(j.recordID)
	if err != nil {
		s.logger.Error("loading copy record", "record", j.recordID, "error", err)
		return
	}
	if rec.Status != store.CopyPending {
		return
	}

	owner, repo, err := github.SplitRepo(rec.TargetRepo)
	if err != nil {
		s.fail(rec.ID, err.Error())
		return
	}

	body := j.issue.Body
	partial := false

	var images []store.ImageReupload
	if s.cfg.ReuploadImages {
		body, images, partial = s.rehostImages(ctx, owner, repo, body, rec.SourceIssueNumber)
	}

	body = RewriteIssueRefs(body, rec.SourceRepo)

	if s.cfg.AddSourceReference {
		body = fmt.Sprintf("**Source**: [%s #%d](%s)\n\n---\n\n%s",
			rec.SourceRepo, rec.SourceIssueNumber, rec.SourceIssueURL, body)
	}

	var labelsCopied []string
	if s.cfg.CopyLabels && len(rec.SourceLabels) > 0 {
		labelsCopied, partial = s.copyableLabels(ctx, owner, repo, rec, partial)
	}

	created, err := s.gh.CreateIssue(ctx, owner, repo, rec.SourceIssueTitle, body, labelsCopied)
	if err != nil {
		s.fail(rec.ID, fmt.Sprintf("creating issue: %v", err))
		return
	}

	status := store.CopySuccess
	if partial {
		status = store.CopyPartial
	}
	if err := s.db.CompleteCopyRecord(rec.ID, created.Number, created.HTMLURL, labelsCopied, images, status); err != nil {
		s.logger.Error("completing copy record", "record", rec.ID, "error", err)
	}
	s.logger.Info("issue copied",
		"source", fmt.Sprintf("%s#%d", rec.SourceRepo, rec.SourceIssueNumber),
		"target", created.HTMLURL, "status", status, "images", len(images))

	if s.cfg.AddCopyComment {
		s.postCopyComment(ctx, rec, created)
	}
}

// rehostImages downloads each non-GitHub image in the body and uploads it to
// the target repo's assets branch, replacing the URL in place. Per-image
// failures skip that image only and flip the copy to partial.
func (s *Service) rehostImages(ctx context.Context, owner, repo, body string, sourceIssue int) (string, []store.ImageReupload, bool) {
	urls := ExtractImageURLs(body)
	if len(urls) == 0 {
		return body, nil, false
	}

	if _, err := s.gh.EnsureBranch(ctx, owner, repo, assetsBranch); err != nil {
		s.logger.Warn("ensuring assets branch; keeping original image URLs",
			"repo", owner+"/"+repo, "error", err)
		return body, nil, true
	}

	var images []store.ImageReupload
	partial := false
	for _, raw := range urls {
		data, err := s.gh.DownloadBytes(ctx, raw)
		if err != nil {
			s.logger.Warn("downloading image", "url", raw, "error", err)
			partial = true
			continue
		}
		name := ImageFilename(raw)
		msg := fmt.Sprintf("Add image for issue #%d", sourceIssue)
		newURL, err := s.gh.UploadFile(ctx, owner, repo, assetsBranch, "images/"+name, msg, data)
		if err != nil {
			s.logger.Warn("uploading image", "url", raw, "error", err)
			partial = true
			continue
		}
		body = strings.ReplaceAll(body, raw, newURL)
		images = append(images, store.ImageReupload{OriginalURL: raw, NewURL: newURL})
	}
	return body, images, partial
}

// copyableLabels intersects the source labels with the labels that exist on
// the target repo. Missing labels are skipped and logged.
func (s *Service) copyableLabels(ctx context.Context, owner, repo string, rec store.CopyRecord, partial bool) ([]string, bool) {
	available, err := s.gh.ListRepoLabels(ctx, owner, repo)
	if err != nil {
		s.logger.Warn("listing target labels; skipping label copy",
			"repo", owner+"/"+repo, "error", err)
		return nil, true
	}

	var copied, missing []string
	for _, label := range rec.SourceLabels {
		if slices.Contains(available, label) {
			copied = append(copied, label)
		} else {
			missing = append(missing, label)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("labels missing on target repo, skipped",
			"repo", owner+"/"+repo, "labels", missing)
		partial = true
	}
	return copied, partial
}

func (s *Service) postCopyComment(ctx context.Context, rec store.CopyRecord, created github.Issue) {
	owner, repo, err := github.SplitRepo(rec.SourceRepo)
	if err != nil {
		return
	}
	comment := fmt.Sprintf("This issue was automatically copied to [%s #%d](%s).\n\n---\n*Generated by the issue copier*",
		rec.TargetRepo, created.Number, created.HTMLURL)
	if _, err := s.gh.PostIssueComment(ctx, owner, repo, rec.SourceIssueNumber, comment); err != nil {
		// The copy itself succeeded; the notification is best-effort.
		s.logger.Warn("posting copy comment on source issue",
			"issue", rec.SourceIssueNumber, "error", err)
	}
}

// mirrorComment posts one source comment onto one copied issue.
func (s *Service) mirrorComment(ctx context.Context, j job) {
	cs, err := s.db.GetCommentSync(j.recordID)
	if err != nil {
		s.logger.Error("loading comment sync", "sync", j.recordID, "error", err)
		return
	}
	if cs.Status != store.CopyPending {
		return
	}

	owner, repo, err := github.SplitRepo(cs.TargetRepo)
	if err != nil {
		s.failSync(cs.ID, err.Error())
		return
	}

	body := j.comment.Body
	if s.cfg.ReuploadImages {
		body, _, _ = s.rehostImages(ctx, owner, repo, body, cs.SourceIssueNumber)
	}
	body = RewriteIssueRefs(body, cs.SourceRepo)

	mirrored := fmt.Sprintf("**%s** commented on the source issue:\n\n%s\n\n---\n\n%s",
		cs.Author, j.comment.HTMLURL, body)
	if HasMedia(j.comment.Body) {
		mirrored += "\n\n---\n\n*This comment contains images or attachments; check the source issue for the latest versions.*"
	}

	posted, err := s.gh.PostIssueComment(ctx, owner, repo, cs.TargetIssueNumber, mirrored)
	if err != nil {
		s.failSync(cs.ID, fmt.Sprintf("posting mirrored comment: %v", err))
		return
	}
	if err := s.db.CompleteCommentSync(cs.ID, posted.ID); err != nil {
		s.logger.Error("completing comment sync", "sync", cs.ID, "error", err)
		return
	}
	s.logger.Info("comment mirrored",
		"source_comment", cs.SourceCommentID,
		"target", fmt.Sprintf("%s#%d", cs.TargetRepo, cs.TargetIssueNumber))
}

func (s *Service) fail(recordID, message string) {
	s.logger.Warn("issue copy failed", "record", recordID, "error", message)
	if err := s.db.FailCopyRecord(recordID, message); err != nil {
		s.logger.Error("marking copy failed", "record", recordID, "error", err)
	}
}

func (s *Service) failSync(syncID, message string) {
	s.logger.Warn("comment mirror failed", "sync", syncID, "error", message)
	if err := s.db.FailCommentSync(syncID, message); err != nil {
		s.logger.Error("marking comment sync failed", "sync", syncID, "error", err)
	}
}

func (s *Service) handleListCopies(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.db.ListCopyRecords(store.CopyFilter{
		Status:     r.URL.Query().Get("status"),
		TargetRepo: r.URL.Query().Get("target_repo"),
		Limit:      limit,
	})
	if err != nil {
		s.logger.Error("listing copy records", "error", err)
		writeError(w, http.StatusInternalServerError, "listing copies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"copies": copyViews(records)})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.CopyRecordStats()
	if err != nil {
		s.logger.Error("counting copy records", "error", err)
		writeError(w, http.StatusInternalServerError, "counting copies")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Service) handleListSyncs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	syncs, err := s.db.ListCommentSyncs(limit)
	if err != nil {
		s.logger.Error("listing comment syncs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing syncs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"syncs": syncViews(syncs)})
}

// copyView is the JSON shape of a copy record.
type copyView struct {
	ID                string                `json:"id"`
	SourceRepo        string                `json:"source_repo"`
	SourceIssueNumber int                   `json:"source_issue_number"`
	SourceIssueTitle  string                `json:"source_issue_title"`
	SourceIssueURL    string                `json:"source_issue_url"`
	SourceLabels      []string              `json:"source_labels"`
	TargetRepo        string                `json:"target_repo"`
	TargetIssueNumber int                   `json:"target_issue_number,omitempty"`
	TargetIssueURL    string                `json:"target_issue_url,omitempty"`
	LabelsCopied      []string              `json:"labels_copied,omitempty"`
	ImagesReuploaded  []store.ImageReupload `json:"images_reuploaded,omitempty"`
	Status            string                `json:"status"`
	ErrorMessage      string                `json:"error_message,omitempty"`
	CreatedAt         string                `json:"created_at"`
	CompletedAt       string                `json:"completed_at,omitempty"`
}

func copyViews(records []store.CopyRecord) []copyView {
	views := make([]copyView, 0, len(records))
	for _, rec := range records {
		v := copyView{
			ID:                rec.ID,
			SourceRepo:        rec.SourceRepo,
			SourceIssueNumber: rec.SourceIssueNumber,
			SourceIssueTitle:  rec.SourceIssueTitle,
			SourceIssueURL:    rec.SourceIssueURL,
			SourceLabels:      rec.SourceLabels,
			TargetRepo:        rec.TargetRepo,
			TargetIssueNumber: rec.TargetIssueNumber,
			TargetIssueURL:    rec.TargetIssueURL,
			LabelsCopied:      rec.LabelsCopied,
			ImagesReuploaded:  rec.ImagesReuploaded,
			Status:            rec.Status,
			ErrorMessage:      rec.ErrorMessage,
			CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
		}
		if !rec.CompletedAt.IsZero() {
			v.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	return views
}

// syncView is the JSON shape of a comment sync.
type syncView struct {
	ID                string `json:"id"`
	SourceCommentID   int64  `json:"source_comment_id"`
	SourceRepo        string `json:"source_repo"`
	SourceIssueNumber int    `json:"source_issue_number"`
	TargetRepo        string `json:"target_repo"`
	TargetIssueNumber int    `json:"target_issue_number"`
	TargetCommentID   int64  `json:"target_comment_id,omitempty"`
	Author            string `json:"author"`
	Status            string `json:"status"`
	ErrorMessage      string `json:"error_message,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func syncViews(syncs []store.CommentSync) []syncView {
	views := make([]syncView, 0, len(syncs))
	for _, sync := range syncs {
		views = append(views, syncView{
			ID:                sync.ID,
			SourceCommentID:   sync.SourceCommentID,
			SourceRepo:        sync.SourceRepo,
			SourceIssueNumber: sync.SourceIssueNumber,
			TargetRepo:        sync.TargetRepo,
			TargetIssueNumber: sync.TargetIssueNumber,
			TargetCommentID:   sync.TargetCommentID,
			Author:            sync.Author,
			Status:            sync.Status,
			ErrorMessage:      sync.ErrorMessage,
			CreatedAt:         sync.CreatedAt.Format(time.RFC3339),
		})
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
