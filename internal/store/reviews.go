package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Review task statuses. Transitions only move forward:
// queued -> processing -> completed | failed.
const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// TaskTerminal reports whether a status admits no further transitions.
func TaskTerminal(status string) bool {
	return status == TaskCompleted || status == TaskFailed
}

// ReviewTask tracks one PR review from webhook receipt to posted comment.
// TaskID is "owner/repo#number", so re-delivery of the same PR event finds
// the existing row.
type ReviewTask struct {
	TaskID        string
	Repo          string
	PRNumber      int
	PRTitle       string
	PRAuthor      string
	PRURL         string
	Status        string
	Progress      int
	Message       string
	ErrorMessage  string
	ReviewContent string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   time.Time
}

// ReviewTaskID builds the canonical task key for a PR.
func ReviewTaskID(repo string, prNumber int) string {
	return fmt.Sprintf("%s#%d", repo, prNumber)
}

// EnqueueReviewTask inserts a queued task for the PR, or resets an existing
// terminal task back to queued. If a task for the PR is already queued or
// processing it is left untouched and created is false.
func (db *DB) EnqueueReviewTask(task ReviewTask) (created bool, err error) {
	task.TaskID = ReviewTaskID(task.Repo, task.PRNumber)
	now := time.Now().UTC()

	err = db.Tx(func(tx *Tx) error {
		existing, err := tx.getReviewTask(task.TaskID)
		switch {
		case err == sql.ErrNoRows:
			_, err := tx.tx.Exec(`
				INSERT INTO review_tasks (task_id, repo, pr_number, pr_title, pr_author, pr_url,
					status, progress, message, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
				task.TaskID, task.Repo, task.PRNumber, task.PRTitle, task.PRAuthor, task.PRURL,
				TaskQueued, "Review queued", fmtTime(now), fmtTime(now))
			if err != nil {
				return fmt.Errorf("inserting review task: %w", err)
			}
			created = true
			return nil
		case err != nil:
			return err
		}

		if !TaskTerminal(existing.Status) {
			return nil
		}
		_, err = tx.tx.Exec(`
			UPDATE review_tasks
			SET status = ?, progress = 0, message = ?, error_message = '',
				review_content = '', pr_title = ?, pr_author = ?, pr_url = ?,
				updated_at = ?, completed_at = ''
			WHERE task_id = ?`,
			TaskQueued, "Review queued", task.PRTitle, task.PRAuthor, task.PRURL,
			fmtTime(now), task.TaskID)
		if err != nil {
			return fmt.Errorf("resetting review task: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

// UpdateReviewProgress moves a task forward. Terminal tasks are left alone
// and progress never decreases, so stale worker updates cannot rewind a task
// another path already finished.
func (db *DB) UpdateReviewProgress(taskID, status string, progress int, message string) error {
	return db.Tx(func(tx *Tx) error {
		existing, err := tx.getReviewTask(taskID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("review task %s: %w", taskID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if TaskTerminal(existing.Status) {
			return nil
		}
		if progress < existing.Progress {
			progress = existing.Progress
		}
		_, err = tx.tx.Exec(`
			UPDATE review_tasks SET status = ?, progress = ?, message = ?, updated_at = ?
			WHERE task_id = ?`,
			status, progress, message, fmtTime(time.Now().UTC()), taskID)
		if err != nil {
			return fmt.Errorf("updating review task: %w", err)
		}
		return nil
	})
}

// CompleteReviewTask records a successful review.
func (db *DB) CompleteReviewTask(taskID, reviewContent string) error {
	now := fmtTime(time.Now().UTC())
	_, err := db.conn.Exec(`
		UPDATE review_tasks
		SET status = ?, progress = 100, message = 'Review completed',
			review_content = ?, updated_at = ?, completed_at = ?
		WHERE task_id = ?`,
		TaskCompleted, reviewContent, now, now, taskID)
	if err != nil {
		return fmt.Errorf("completing review task: %w", err)
	}
	return nil
}

// FailReviewTask marks a task failed unless it already completed.
func (db *DB) FailReviewTask(taskID, errorMessage string) error {
	return db.Tx(func(tx *Tx) error {
		existing, err := tx.getReviewTask(taskID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("review task %s: %w", taskID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if existing.Status == TaskCompleted {
			return nil
		}
		now := fmtTime(time.Now().UTC())
		_, err = tx.tx.Exec(`
			UPDATE review_tasks
			SET status = ?, message = 'Review failed', error_message = ?,
				updated_at = ?, completed_at = ?
			WHERE task_id = ?`,
			TaskFailed, errorMessage, now, now, taskID)
		if err != nil {
			return fmt.Errorf("failing review task: %w", err)
		}
		return nil
	})
}

func (db *DB) GetReviewTask(taskID string) (ReviewTask, error) {
	row := db.conn.QueryRow(reviewTaskColumns+` WHERE task_id = ?`, taskID)
	task, err := scanReviewTaskRow(row)
	if err == sql.ErrNoRows {
		return ReviewTask{}, fmt.Errorf("review task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return ReviewTask{}, fmt.Errorf("getting review task: %w", err)
	}
	return task, nil
}

// TaskFilter narrows ListReviewTasks. Zero values mean "no constraint".
type TaskFilter struct {
	Status string
	Repo   string
	Limit  int
}

func (db *DB) ListReviewTasks(filter TaskFilter) ([]ReviewTask, error) {
	query := reviewTaskColumns
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
		return nil, fmt.Errorf("listing review tasks: %w", err)
	}
	defer rows.Close()

	var tasks []ReviewTask
	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ReviewStats summarizes tasks by status for the dashboard.
type ReviewStats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (db *DB) ReviewTaskStats() (ReviewStats, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM review_tasks GROUP BY status`)
	if err != nil {
		return ReviewStats{}, fmt.Errorf("counting review tasks: %w", err)
	}
	defer rows.Close()

	var stats ReviewStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return ReviewStats{}, fmt.Errorf("scanning task counts: %w", err)
		}
		stats.Total += count
		switch status {
		case TaskQueued:
			stats.Queued = count
		case TaskProcessing:
			stats.Processing = count
		case TaskCompleted:
			stats.Completed = count
		case TaskFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// DeleteOldReviewTasks removes terminal tasks finished before the cutoff and
// returns how many were deleted.
func (db *DB) DeleteOldReviewTasks(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`
		DELETE FROM review_tasks
		WHERE status IN (?, ?) AND updated_at < ?`,
		TaskCompleted, TaskFailed, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old review tasks: %w", err)
	}
	return res.RowsAffected()
}

const reviewTaskColumns = `
	SELECT task_id, repo, pr_number, pr_title, pr_author, pr_url,
		status, progress, message, error_message, review_content,
		created_at, updated_at, completed_at
	FROM review_tasks`

func (tx *Tx) getReviewTask(taskID string) (ReviewTask, error) {
	row := tx.tx.QueryRow(reviewTaskColumns+` WHERE task_id = ?`, taskID)
	return scanReviewTaskRow(row)
}

func scanReviewTask(rows *sql.Rows) (ReviewTask, error) {
	var task ReviewTask
	var createdAt, updatedAt, completedAt string
	err := rows.Scan(&task.TaskID, &task.Repo, &task.PRNumber, &task.PRTitle,
		&task.PRAuthor, &task.PRURL, &task.Status, &task.Progress, &task.Message,
		&task.ErrorMessage, &task.ReviewContent, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return ReviewTask{}, fmt.Errorf("scanning review task: %w", err)
	}
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	task.CompletedAt = parseTime(completedAt)
	return task, nil
}

func scanReviewTaskRow(row *sql.Row) (ReviewTask, error) {
	var task ReviewTask
	var createdAt, updatedAt, completedAt string
	err := row.Scan(&task.TaskID, &task.Repo, &task.PRNumber, &task.PRTitle,
		&task.PRAuthor, &task.PRURL, &task.Status, &task.Progress, &task.Message,
		&task.ErrorMessage, &task.ReviewContent, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return ReviewTask{}, err
	}
	task.CreatedAt = parseTime(createdAt)
	task.UpdatedAt = parseTime(updatedAt)
	task.CompletedAt = parseTime(completedAt)
	return task, nil
}
