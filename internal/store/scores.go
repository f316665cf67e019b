package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// feedbackSeparator joins accumulated user feedback entries on one score.
const feedbackSeparator = "\n---\n"

// DimensionScore is one scored quality dimension with its explanation.
type DimensionScore struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// ScoreResult is the outcome of one AI scoring run.
type ScoreResult struct {
	Format        DimensionScore `json:"format"`
	Content       DimensionScore `json:"content"`
	Clarity       DimensionScore `json:"clarity"`
	Actionability DimensionScore `json:"actionability"`
	OverallScore  int            `json:"overall_score"`
	Suggestions   []string       `json:"suggestions"`
}

// ScoreRecord tracks the quality scoring of one issue or comment. CommentID
// is zero when the scored content is the issue itself.
type ScoreRecord struct {
	ID           string
	Repo         string
	IssueNumber  int
	CommentID    int64
	ContentType  string
	Title        string
	Author       string
	IssueURL     string
	Status       string
	Result       ScoreResult
	UserFeedback string
	Ignored      bool
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// CreateScoreRecord inserts a queued score. One record exists per scored
// content: a second insert for the same (repo, issue, comment) returns
// ErrDuplicate.
func (db *DB) CreateScoreRecord(rec ScoreRecord) (ScoreRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = TaskQueued
	}
	rec.CreatedAt = time.Now().UTC()

	_, err := db.conn.Exec(`
		INSERT INTO issue_scores (id, repo, issue_number, comment_id, content_type,
			title, author, issue_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Repo, rec.IssueNumber, rec.CommentID, rec.ContentType,
		rec.Title, rec.Author, rec.IssueURL, rec.Status, fmtTime(rec.CreatedAt))
	if isUniqueViolation(err) {
		return ScoreRecord{}, fmt.Errorf("score of %s#%d (comment %d): %w",
			rec.Repo, rec.IssueNumber, rec.CommentID, ErrDuplicate)
	}
	if err != nil {
		return ScoreRecord{}, fmt.Errorf("inserting score record: %w", err)
	}
	return rec, nil
}

// FindScoreByContent returns the score record for one piece of content,
// whatever its status.
func (db *DB) FindScoreByContent(repo string, issueNumber int, commentID int64) (ScoreRecord, error) {
	row := db.conn.QueryRow(scoreRecordColumns+`
		WHERE repo = ? AND issue_number = ? AND comment_id = ?`,
		repo, issueNumber, commentID)
	rec, err := scanScoreRecordRow(row)
	if err == sql.ErrNoRows {
		return ScoreRecord{}, ErrNotFound
	}
	if err != nil {
		return ScoreRecord{}, fmt.Errorf("finding score: %w", err)
	}
	return rec, nil
}

// ResetScoreRecord re-queues a failed score so a redelivered webhook can
// retry it. Only failed scores reset; any other status is ErrNotFound.
func (db *DB) ResetScoreRecord(id string) (ScoreRecord, error) {
	res, err := db.conn.Exec(`
		UPDATE issue_scores SET status = ?, error_message = '', completed_at = ''
		WHERE id = ? AND status = ?`,
		TaskQueued, id, TaskFailed)
	if err != nil {
		return ScoreRecord{}, fmt.Errorf("resetting score record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ScoreRecord{}, fmt.Errorf("score %s not failed: %w", id, ErrNotFound)
	}
	return db.GetScoreRecord(id)
}

// MarkScoreProcessing moves a queued score to processing.
func (db *DB) MarkScoreProcessing(id string) error {
	_, err := db.conn.Exec(`UPDATE issue_scores SET status = ? WHERE id = ?`, TaskProcessing, id)
	if err != nil {
		return fmt.Errorf("marking score processing: %w", err)
	}
	return nil
}

// CompleteScore stores the scoring result.
func (db *DB) CompleteScore(id string, result ScoreResult) error {
	_, err := db.conn.Exec(`
		UPDATE issue_scores
		SET status = ?, format_score = ?, format_feedback = ?,
			content_score = ?, content_feedback = ?,
			clarity_score = ?, clarity_feedback = ?,
			actionability_score = ?, actionability_feedback = ?,
			overall_score = ?, suggestions = ?, completed_at = ?
		WHERE id = ?`,
		TaskCompleted,
		result.Format.Score, result.Format.Feedback,
		result.Content.Score, result.Content.Feedback,
		result.Clarity.Score, result.Clarity.Feedback,
		result.Actionability.Score, result.Actionability.Feedback,
		result.OverallScore, marshalStrings(result.Suggestions),
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("completing score: %w", err)
	}
	return nil
}

// FailScore marks the score failed.
func (db *DB) FailScore(id, errorMessage string) error {
	_, err := db.conn.Exec(`
		UPDATE issue_scores SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		TaskFailed, errorMessage, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failing score: %w", err)
	}
	return nil
}

func (db *DB) GetScoreRecord(id string) (ScoreRecord, error) {
	row := db.conn.QueryRow(scoreRecordColumns+` WHERE id = ?`, id)
	rec, err := scanScoreRecordRow(row)
	if err == sql.ErrNoRows {
		return ScoreRecord{}, fmt.Errorf("score %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ScoreRecord{}, fmt.Errorf("getting score record: %w", err)
	}
	return rec, nil
}

// LatestScoreForIssue returns the most recent completed score of the issue
// body itself (not of a comment).
func (db *DB) LatestScoreForIssue(repo string, issueNumber int) (ScoreRecord, error) {
	row := db.conn.QueryRow(scoreRecordColumns+`
		WHERE repo = ? AND issue_number = ? AND comment_id = 0 AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		repo, issueNumber, TaskCompleted)
	rec, err := scanScoreRecordRow(row)
	if err == sql.ErrNoRows {
		return ScoreRecord{}, ErrNotFound
	}
	if err != nil {
		return ScoreRecord{}, fmt.Errorf("getting latest score: %w", err)
	}
	return rec, nil
}

// AppendScoreFeedback accumulates user feedback on a score; entries are kept
// separated so the analyzer sees each one.
func (db *DB) AppendScoreFeedback(id, feedback string) error {
	return db.Tx(func(tx *Tx) error {
		var existing string
		err := tx.tx.QueryRow(`SELECT user_feedback FROM issue_scores WHERE id = ?`, id).Scan(&existing)
		if err == sql.ErrNoRows {
			return fmt.Errorf("score %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading score feedback: %w", err)
		}
		if existing != "" {
			feedback = existing + feedbackSeparator + feedback
		}
		if _, err := tx.tx.Exec(`UPDATE issue_scores SET user_feedback = ? WHERE id = ?`, feedback, id); err != nil {
			return fmt.Errorf("updating score feedback: %w", err)
		}
		return nil
	})
}

// SetScoreIgnored flags a score as excluded from statistics and learning.
func (db *DB) SetScoreIgnored(id string, ignored bool) error {
	val := 0
	if ignored {
		val = 1
	}
	res, err := db.conn.Exec(`UPDATE issue_scores SET ignored = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("setting score ignored: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("score %s: %w", id, ErrNotFound)
	}
	return nil
}

// RefreshScoreTitles updates the stored title on all scores of an issue
// after the issue is renamed.
func (db *DB) RefreshScoreTitles(repo string, issueNumber int, title string) (int64, error) {
	res, err := db.conn.Exec(`
		UPDATE issue_scores SET title = ? WHERE repo = ? AND issue_number = ?`,
		title, repo, issueNumber)
	if err != nil {
		return 0, fmt.Errorf("refreshing score titles: %w", err)
	}
	return res.RowsAffected()
}

// ScoreFilter narrows ListScoreRecords. Zero values mean "no constraint".
type ScoreFilter struct {
	Status      string
	Repo        string
	Author      string
	ContentType string
	Limit       int
}

func (db *DB) ListScoreRecords(filter ScoreFilter) ([]ScoreRecord, error) {
	query := scoreRecordColumns
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Repo != "" {
		conditions = append(conditions, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.Author != "" {
		conditions = append(conditions, "author = ?")
		args = append(args, filter.Author)
	}
	if filter.ContentType != "" {
		conditions = append(conditions, "content_type = ?")
		args = append(args, filter.ContentType)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing score records: %w", err)
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		rec, err := scanScoreRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ScoreStats summarizes scoring activity. Averages cover completed,
// non-ignored scores only.
type ScoreStats struct {
	Total         int            `json:"total"`
	Queued        int            `json:"queued"`
	Processing    int            `json:"processing"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	Ignored       int            `json:"ignored"`
	AverageScore  float64        `json:"average_score"`
	ByContentType map[string]int `json:"by_content_type"`
	WithFeedback  int            `json:"with_feedback"`
}

func (db *DB) ScoreRecordStats() (ScoreStats, error) {
	stats := ScoreStats{ByContentType: map[string]int{}}

	rows, err := db.conn.Query(`
		SELECT status, content_type, overall_score, ignored, user_feedback != ''
		FROM issue_scores`)
	if err != nil {
		return ScoreStats{}, fmt.Errorf("reading score records: %w", err)
	}
	defer rows.Close()

	var scoredSum, scoredCount int
	for rows.Next() {
		var status, contentType string
		var overall int
		var ignored, hasFeedback bool
		if err := rows.Scan(&status, &contentType, &overall, &ignored, &hasFeedback); err != nil {
			return ScoreStats{}, fmt.Errorf("scanning score stats: %w", err)
		}
		stats.Total++
		stats.ByContentType[contentType]++
		if ignored {
			stats.Ignored++
		}
		if hasFeedback {
			stats.WithFeedback++
		}
		switch status {
		case TaskQueued:
			stats.Queued++
		case TaskProcessing:
			stats.Processing++
		case TaskCompleted:
			stats.Completed++
			if !ignored {
				scoredSum += overall
				scoredCount++
			}
		case TaskFailed:
			stats.Failed++
		}
	}
	if scoredCount > 0 {
		stats.AverageScore = float64(scoredSum) / float64(scoredCount)
	}
	return stats, rows.Err()
}

// AuthorHistory summarizes one author's completed, non-ignored scores.
type AuthorHistory struct {
	Author       string        `json:"author"`
	Count        int           `json:"count"`
	AverageScore float64       `json:"average_score"`
	MinScore     int           `json:"min_score"`
	MaxScore     int           `json:"max_score"`
	Trend        string        `json:"trend"`
	Recent       []ScoreRecord `json:"recent"`
}

// AuthorScoreHistory computes an author's scoring history. Trend compares
// the five most recent scores against the author's overall average:
// "improving" when they run at least five points higher, "declining" when at
// least five lower, "stable" otherwise.
func (db *DB) AuthorScoreHistory(author string, recentLimit int) (AuthorHistory, error) {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	hist := AuthorHistory{Author: author, Trend: "stable"}

	rows, err := db.conn.Query(scoreRecordColumns+`
		WHERE author = ? AND status = ? AND ignored = 0
		ORDER BY created_at DESC`,
		author, TaskCompleted)
	if err != nil {
		return AuthorHistory{}, fmt.Errorf("reading author scores: %w", err)
	}
	defer rows.Close()

	var all []ScoreRecord
	for rows.Next() {
		rec, err := scanScoreRecord(rows)
		if err != nil {
			return AuthorHistory{}, err
		}
		all = append(all, rec)
	}
	if err := rows.Err(); err != nil {
		return AuthorHistory{}, err
	}
	if len(all) == 0 {
		return hist, nil
	}

	hist.Count = len(all)
	hist.MinScore = all[0].Result.OverallScore
	hist.MaxScore = all[0].Result.OverallScore
	sum := 0
	for _, rec := range all {
		s := rec.Result.OverallScore
		sum += s
		if s < hist.MinScore {
			hist.MinScore = s
		}
		if s > hist.MaxScore {
			hist.MaxScore = s
		}
	}
	hist.AverageScore = float64(sum) / float64(len(all))

	if len(all) > recentLimit {
		hist.Recent = all[:recentLimit]
	} else {
		hist.Recent = all
	}

	recentN := 5
	if len(all) < recentN {
		recentN = len(all)
	}
	recentSum := 0
	for _, rec := range all[:recentN] {
		recentSum += rec.Result.OverallScore
	}
	recentAvg := float64(recentSum) / float64(recentN)
	switch {
	case recentAvg >= hist.AverageScore+5:
		hist.Trend = "improving"
	case recentAvg <= hist.AverageScore-5:
		hist.Trend = "declining"
	}
	return hist, nil
}

// FeedbackEntries splits accumulated user feedback into individual entries.
func (rec ScoreRecord) FeedbackEntries() []string {
	if rec.UserFeedback == "" {
		return nil
	}
	parts := strings.Split(rec.UserFeedback, feedbackSeparator)
	entries := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			entries = append(entries, p)
		}
	}
	return entries
}

// ListScoresWithFeedback returns completed scores that received user
// feedback after the given time, oldest first. Ignored scores are skipped.
func (db *DB) ListScoresWithFeedback(since time.Time) ([]ScoreRecord, error) {
	rows, err := db.conn.Query(scoreRecordColumns+`
		WHERE user_feedback != '' AND ignored = 0 AND status = ? AND created_at >= ?
		ORDER BY created_at`,
		TaskCompleted, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("listing scores with feedback: %w", err)
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		rec, err := scanScoreRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const scoreRecordColumns = `
	SELECT id, repo, issue_number, comment_id, content_type, title, author, issue_url,
		status, format_score, format_feedback, content_score, content_feedback,
		clarity_score, clarity_feedback, actionability_score, actionability_feedback,
		overall_score, suggestions, user_feedback, ignored, error_message,
		created_at, completed_at
	FROM issue_scores`

func scanScoreRecord(rows *sql.Rows) (ScoreRecord, error) {
	var rec ScoreRecord
	var suggestions, createdAt, completedAt string
	err := rows.Scan(&rec.ID, &rec.Repo, &rec.IssueNumber, &rec.CommentID,
		&rec.ContentType, &rec.Title, &rec.Author, &rec.IssueURL, &rec.Status,
		&rec.Result.Format.Score, &rec.Result.Format.Feedback,
		&rec.Result.Content.Score, &rec.Result.Content.Feedback,
		&rec.Result.Clarity.Score, &rec.Result.Clarity.Feedback,
		&rec.Result.Actionability.Score, &rec.Result.Actionability.Feedback,
		&rec.Result.OverallScore, &suggestions, &rec.UserFeedback, &rec.Ignored,
		&rec.ErrorMessage, &createdAt, &completedAt)
	if err != nil {
		return ScoreRecord{}, fmt.Errorf("scanning score record: %w", err)
	}
	rec.Result.Suggestions = unmarshalStrings(suggestions)
	rec.CreatedAt = parseTime(createdAt)
	rec.CompletedAt = parseTime(completedAt)
	return rec, nil
}

func scanScoreRecordRow(row *sql.Row) (ScoreRecord, error) {
	var rec ScoreRecord
	var suggestions, createdAt, completedAt string
	err := row.Scan(&rec.ID, &rec.Repo, &rec.IssueNumber, &rec.CommentID,
		&rec.ContentType, &rec.Title, &rec.Author, &rec.IssueURL, &rec.Status,
		&rec.Result.Format.Score, &rec.Result.Format.Feedback,
		&rec.Result.Content.Score, &rec.Result.Content.Feedback,
		&rec.Result.Clarity.Score, &rec.Result.Clarity.Feedback,
		&rec.Result.Actionability.Score, &rec.Result.Actionability.Feedback,
		&rec.Result.OverallScore, &suggestions, &rec.UserFeedback, &rec.Ignored,
		&rec.ErrorMessage, &createdAt, &completedAt)
	if err != nil {
		return ScoreRecord{}, err
	}
	rec.Result.Suggestions = unmarshalStrings(suggestions)
	rec.CreatedAt = parseTime(createdAt)
	rec.CompletedAt = parseTime(completedAt)
	return rec, nil
}
