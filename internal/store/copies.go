package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Copy record statuses.
const (
	CopyPending = "pending"
	CopySuccess = "success"
	CopyPartial = "partial"
	CopyFailed  = "failed"
)

// ImageReupload maps an image URL in the source issue body to its re-hosted
// location in the target repo.
type ImageReupload struct {
	OriginalURL string `json:"original_url"`
	NewURL      string `json:"new_url"`
}

// CopyRecord tracks the replication of one source issue into one target
// repo. The (source repo, source issue, target repo) triple is unique, so a
// re-delivered webhook cannot create a second copy.
type CopyRecord struct {
	ID                string
	SourceRepo        string
	SourceIssueNumber int
	SourceIssueTitle  string
	SourceIssueURL    string
	SourceLabels      []string
	TargetRepo        string
	TargetIssueNumber int
	TargetIssueURL    string
	LabelsCopied      []string
	ImagesReuploaded  []ImageReupload
	Status            string
	ErrorMessage      string
	CreatedAt         time.Time
	CompletedAt       time.Time
}

// CreateCopyRecord inserts a pending record, returning ErrDuplicate when the
// issue was already copied to the target repo.
func (db *DB) CreateCopyRecord(rec CopyRecord) (CopyRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = CopyPending
	}
	rec.CreatedAt = time.Now().UTC()

	_, err := db.conn.Exec(`
		INSERT INTO issue_copies (id, source_repo, source_issue_number, source_issue_title,
			source_issue_url, source_labels, target_repo, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceRepo, rec.SourceIssueNumber, rec.SourceIssueTitle,
		rec.SourceIssueURL, marshalStrings(rec.SourceLabels), rec.TargetRepo,
		rec.Status, fmtTime(rec.CreatedAt))
	if isUniqueViolation(err) {
		return CopyRecord{}, fmt.Errorf("copy of %s#%d to %s: %w",
			rec.SourceRepo, rec.SourceIssueNumber, rec.TargetRepo, ErrDuplicate)
	}
	if err != nil {
		return CopyRecord{}, fmt.Errorf("inserting copy record: %w", err)
	}
	return rec, nil
}

// CompleteCopyRecord stores the outcome of the replication. Status is
// "success" when everything copied, "partial" when the issue landed but some
// labels or images did not.
func (db *DB) CompleteCopyRecord(id string, targetNumber int, targetURL string,
	labelsCopied []string, images []ImageReupload, status string) error {

	imagesJSON, _ := json.Marshal(images)
	if images == nil {
		imagesJSON = []byte("[]")
	}
	_, err := db.conn.Exec(`
		UPDATE issue_copies
		SET target_issue_number = ?, target_issue_url = ?, labels_copied = ?,
			images_reuploaded = ?, status = ?, completed_at = ?
		WHERE id = ?`,
		targetNumber, targetURL, marshalStrings(labelsCopied), string(imagesJSON),
		status, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("completing copy record: %w", err)
	}
	return nil
}

// FailCopyRecord marks the record failed with the given message.
func (db *DB) FailCopyRecord(id, errorMessage string) error {
	_, err := db.conn.Exec(`
		UPDATE issue_copies SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		CopyFailed, errorMessage, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failing copy record: %w", err)
	}
	return nil
}

// ResetCopyRecord flips a failed record back to pending so the copy can be
// retried in place without tripping the uniqueness constraint.
func (db *DB) ResetCopyRecord(id string) (CopyRecord, error) {
	res, err := db.conn.Exec(`
		UPDATE issue_copies SET status = ?, error_message = '', completed_at = ''
		WHERE id = ? AND status = ?`,
		CopyPending, id, CopyFailed)
	if err != nil {
		return CopyRecord{}, fmt.Errorf("resetting copy record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CopyRecord{}, err
	}
	if n == 0 {
		return CopyRecord{}, fmt.Errorf("copy record %s is not failed: %w", id, ErrNotFound)
	}
	return db.GetCopyRecord(id)
}

func (db *DB) GetCopyRecord(id string) (CopyRecord, error) {
	row := db.conn.QueryRow(copyRecordColumns+` WHERE id = ?`, id)
	rec, err := scanCopyRecordRow(row)
	if err == sql.ErrNoRows {
		return CopyRecord{}, fmt.Errorf("copy record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return CopyRecord{}, fmt.Errorf("getting copy record: %w", err)
	}
	return rec, nil
}

// FindCopyRecord locates the record for a (source issue, target repo) pair.
func (db *DB) FindCopyRecord(sourceRepo string, sourceIssueNumber int, targetRepo string) (CopyRecord, error) {
	row := db.conn.QueryRow(copyRecordColumns+`
		WHERE source_repo = ? AND source_issue_number = ? AND target_repo = ?`,
		sourceRepo, sourceIssueNumber, targetRepo)
	rec, err := scanCopyRecordRow(row)
	if err == sql.ErrNoRows {
		return CopyRecord{}, fmt.Errorf("copy of %s#%d to %s: %w",
			sourceRepo, sourceIssueNumber, targetRepo, ErrNotFound)
	}
	if err != nil {
		return CopyRecord{}, fmt.Errorf("finding copy record: %w", err)
	}
	return rec, nil
}

// FindCopiesOfIssue returns all successful copies of a source issue, one per
// target repo. Used to mirror comments to every target.
func (db *DB) FindCopiesOfIssue(sourceRepo string, sourceIssueNumber int) ([]CopyRecord, error) {
	rows, err := db.conn.Query(copyRecordColumns+`
		WHERE source_repo = ? AND source_issue_number = ? AND status IN (?, ?)
		ORDER BY created_at`,
		sourceRepo, sourceIssueNumber, CopySuccess, CopyPartial)
	if err != nil {
		return nil, fmt.Errorf("finding copies of issue: %w", err)
	}
	defer rows.Close()
	return collectCopyRecords(rows)
}

// CopyFilter narrows ListCopyRecords. Zero values mean "no constraint".
type CopyFilter struct {
	Status     string
	SourceRepo string
	TargetRepo string
	Limit      int
}

func (db *DB) ListCopyRecords(filter CopyFilter) ([]CopyRecord, error) {
	query := copyRecordColumns
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.SourceRepo != "" {
		conditions = append(conditions, "source_repo = ?")
		args = append(args, filter.SourceRepo)
	}
	if filter.TargetRepo != "" {
		conditions = append(conditions, "target_repo = ?")
		args = append(args, filter.TargetRepo)
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
		return nil, fmt.Errorf("listing copy records: %w", err)
	}
	defer rows.Close()
	return collectCopyRecords(rows)
}

// CopyStats summarizes replication outcomes, including per-target counts and
// the number of images re-hosted.
type CopyStats struct {
	Total            int            `json:"total"`
	Pending          int            `json:"pending"`
	Success          int            `json:"success"`
	Partial          int            `json:"partial"`
	Failed           int            `json:"failed"`
	ByTargetRepo     map[string]int `json:"by_target_repo"`
	ImagesReuploaded int            `json:"images_reuploaded"`
}

func (db *DB) CopyRecordStats() (CopyStats, error) {
	stats := CopyStats{ByTargetRepo: map[string]int{}}

	rows, err := db.conn.Query(`SELECT status, target_repo, images_reuploaded FROM issue_copies`)
	if err != nil {
		return CopyStats{}, fmt.Errorf("reading copy records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, targetRepo, imagesJSON string
		if err := rows.Scan(&status, &targetRepo, &imagesJSON); err != nil {
			return CopyStats{}, fmt.Errorf("scanning copy stats: %w", err)
		}
		stats.Total++
		stats.ByTargetRepo[targetRepo]++
		switch status {
		case CopyPending:
			stats.Pending++
		case CopySuccess:
			stats.Success++
		case CopyPartial:
			stats.Partial++
		case CopyFailed:
			stats.Failed++
		}
		var images []ImageReupload
		json.Unmarshal([]byte(imagesJSON), &images)
		stats.ImagesReuploaded += len(images)
	}
	return stats, rows.Err()
}

// CommentSync tracks the mirroring of one source comment into one copied
// issue. The (source comment, target issue) pair is unique.
type CommentSync struct {
	ID                string
	SourceCommentID   int64
	SourceRepo        string
	SourceIssueNumber int
	TargetRepo        string
	TargetIssueNumber int
	TargetCommentID   int64
	Author            string
	Status            string
	ErrorMessage      string
	CreatedAt         time.Time
}

// CreateCommentSync inserts a pending sync, returning ErrDuplicate when the
// comment was already mirrored to the target issue.
func (db *DB) CreateCommentSync(sync CommentSync) (CommentSync, error) {
	if sync.ID == "" {
		sync.ID = uuid.New().String()
	}
	if sync.Status == "" {
		sync.Status = CopyPending
	}
	sync.CreatedAt = time.Now().UTC()

	_, err := db.conn.Exec(`
		INSERT INTO comment_syncs (id, source_comment_id, source_repo, source_issue_number,
			target_repo, target_issue_number, author, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sync.ID, sync.SourceCommentID, sync.SourceRepo, sync.SourceIssueNumber,
		sync.TargetRepo, sync.TargetIssueNumber, sync.Author, sync.Status,
		fmtTime(sync.CreatedAt))
	if isUniqueViolation(err) {
		return CommentSync{}, fmt.Errorf("comment %d already synced to %s#%d: %w",
			sync.SourceCommentID, sync.TargetRepo, sync.TargetIssueNumber, ErrDuplicate)
	}
	if err != nil {
		return CommentSync{}, fmt.Errorf("inserting comment sync: %w", err)
	}
	return sync, nil
}

// CompleteCommentSync records the mirrored comment's ID.
func (db *DB) CompleteCommentSync(id string, targetCommentID int64) error {
	_, err := db.conn.Exec(`
		UPDATE comment_syncs SET target_comment_id = ?, status = ? WHERE id = ?`,
		targetCommentID, CopySuccess, id)
	if err != nil {
		return fmt.Errorf("completing comment sync: %w", err)
	}
	return nil
}

// FailCommentSync marks the sync failed.
func (db *DB) FailCommentSync(id, errorMessage string) error {
	_, err := db.conn.Exec(`
		UPDATE comment_syncs SET status = ?, error_message = ? WHERE id = ?`,
		CopyFailed, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failing comment sync: %w", err)
	}
	return nil
}

// GetCommentSync fetches one sync by ID.
func (db *DB) GetCommentSync(id string) (CommentSync, error) {
	row := db.conn.QueryRow(commentSyncColumns+` WHERE id = ?`, id)
	var s CommentSync
	var createdAt string
	err := row.Scan(&s.ID, &s.SourceCommentID, &s.SourceRepo, &s.SourceIssueNumber,
		&s.TargetRepo, &s.TargetIssueNumber, &s.TargetCommentID, &s.Author,
		&s.Status, &s.ErrorMessage, &createdAt)
	if err == sql.ErrNoRows {
		return CommentSync{}, fmt.Errorf("comment sync %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return CommentSync{}, fmt.Errorf("getting comment sync: %w", err)
	}
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

// FindCommentSync returns the sync record for one (source comment, target
// issue) pair, whatever its status.
func (db *DB) FindCommentSync(sourceCommentID int64, targetRepo string, targetIssueNumber int) (CommentSync, error) {
	row := db.conn.QueryRow(commentSyncColumns+`
		WHERE source_comment_id = ? AND target_repo = ? AND target_issue_number = ?`,
		sourceCommentID, targetRepo, targetIssueNumber)
	var s CommentSync
	var createdAt string
	err := row.Scan(&s.ID, &s.SourceCommentID, &s.SourceRepo, &s.SourceIssueNumber,
		&s.TargetRepo, &s.TargetIssueNumber, &s.TargetCommentID, &s.Author,
		&s.Status, &s.ErrorMessage, &createdAt)
	if err == sql.ErrNoRows {
		return CommentSync{}, ErrNotFound
	}
	if err != nil {
		return CommentSync{}, fmt.Errorf("finding comment sync: %w", err)
	}
	s.CreatedAt = parseTime(createdAt)
	return s, nil
}

func (db *DB) ListCommentSyncs(limit int) ([]CommentSync, error) {
	query := commentSyncColumns + ` ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing comment syncs: %w", err)
	}
	defer rows.Close()

	var syncs []CommentSync
	for rows.Next() {
		var s CommentSync
		var createdAt string
		err := rows.Scan(&s.ID, &s.SourceCommentID, &s.SourceRepo, &s.SourceIssueNumber,
			&s.TargetRepo, &s.TargetIssueNumber, &s.TargetCommentID, &s.Author,
			&s.Status, &s.ErrorMessage, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning comment sync: %w", err)
		}
		s.CreatedAt = parseTime(createdAt)
		syncs = append(syncs, s)
	}
	return syncs, rows.Err()
}

const copyRecordColumns = `
	SELECT id, source_repo, source_issue_number, source_issue_title, source_issue_url,
		source_labels, target_repo, target_issue_number, target_issue_url,
		labels_copied, images_reuploaded, status, error_message, created_at, completed_at
	FROM issue_copies`

const commentSyncColumns = `
	SELECT id, source_comment_id, source_repo, source_issue_number,
		target_repo, target_issue_number, target_comment_id, author,
		status, error_message, created_at
	FROM comment_syncs`

func collectCopyRecords(rows *sql.Rows) ([]CopyRecord, error) {
	var records []CopyRecord
	for rows.Next() {
		rec, err := scanCopyRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanCopyRecord(rows *sql.Rows) (CopyRecord, error) {
	var rec CopyRecord
	var sourceLabels, labelsCopied, imagesJSON, createdAt, completedAt string
	err := rows.Scan(&rec.ID, &rec.SourceRepo, &rec.SourceIssueNumber,
		&rec.SourceIssueTitle, &rec.SourceIssueURL, &sourceLabels, &rec.TargetRepo,
		&rec.TargetIssueNumber, &rec.TargetIssueURL, &labelsCopied, &imagesJSON,
		&rec.Status, &rec.ErrorMessage, &createdAt, &completedAt)
	if err != nil {
		return CopyRecord{}, fmt.Errorf("scanning copy record: %w", err)
	}
	fillCopyRecord(&rec, sourceLabels, labelsCopied, imagesJSON, createdAt, completedAt)
	return rec, nil
}

func scanCopyRecordRow(row *sql.Row) (CopyRecord, error) {
	var rec CopyRecord
	var sourceLabels, labelsCopied, imagesJSON, createdAt, completedAt string
	err := row.Scan(&rec.ID, &rec.SourceRepo, &rec.SourceIssueNumber,
		&rec.SourceIssueTitle, &rec.SourceIssueURL, &sourceLabels, &rec.TargetRepo,
		&rec.TargetIssueNumber, &rec.TargetIssueURL, &labelsCopied, &imagesJSON,
		&rec.Status, &rec.ErrorMessage, &createdAt, &completedAt)
	if err != nil {
		return CopyRecord{}, err
	}
	fillCopyRecord(&rec, sourceLabels, labelsCopied, imagesJSON, createdAt, completedAt)
	return rec, nil
}

func fillCopyRecord(rec *CopyRecord, sourceLabels, labelsCopied, imagesJSON, createdAt, completedAt string) {
	rec.SourceLabels = unmarshalStrings(sourceLabels)
	rec.LabelsCopied = unmarshalStrings(labelsCopied)
	json.Unmarshal([]byte(imagesJSON), &rec.ImagesReuploaded)
	rec.CreatedAt = parseTime(createdAt)
	rec.CompletedAt = parseTime(completedAt)
}
