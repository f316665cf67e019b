// Package store persists webhook automation state in SQLite: review tasks,
// issue copy records, comment syncs, issue scores, feedback patterns and the
// gateway's webhook event history.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. copying the same issue to the same target repo twice.
var ErrDuplicate = errors.New("duplicate record")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

type DB struct {
	conn *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS review_tasks (
	task_id TEXT PRIMARY KEY,
	repo TEXT NOT NULL,
	pr_number INTEGER NOT NULL,
	pr_title TEXT NOT NULL DEFAULT '',
	pr_author TEXT NOT NULL DEFAULT '',
	pr_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	progress INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	review_content TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	completed_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_review_tasks_status ON review_tasks(status);
CREATE INDEX IF NOT EXISTS idx_review_tasks_created ON review_tasks(created_at);

CREATE TABLE IF NOT EXISTS issue_copies (
	id TEXT PRIMARY KEY,
	source_repo TEXT NOT NULL,
	source_issue_number INTEGER NOT NULL,
	source_issue_title TEXT NOT NULL DEFAULT '',
	source_issue_url TEXT NOT NULL DEFAULT '',
	source_labels TEXT NOT NULL DEFAULT '[]',
	target_repo TEXT NOT NULL,
	target_issue_number INTEGER NOT NULL DEFAULT 0,
	target_issue_url TEXT NOT NULL DEFAULT '',
	labels_copied TEXT NOT NULL DEFAULT '[]',
	images_reuploaded TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	completed_at TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_issue_copies_unique
	ON issue_copies(source_repo, source_issue_number, target_repo);
CREATE INDEX IF NOT EXISTS idx_issue_copies_status ON issue_copies(status);

CREATE TABLE IF NOT EXISTS comment_syncs (
	id TEXT PRIMARY KEY,
	source_comment_id INTEGER NOT NULL,
	source_repo TEXT NOT NULL,
	source_issue_number INTEGER NOT NULL,
	target_repo TEXT NOT NULL,
	target_issue_number INTEGER NOT NULL,
	target_comment_id INTEGER NOT NULL DEFAULT 0,
	author TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_comment_syncs_unique
	ON comment_syncs(source_comment_id, target_repo, target_issue_number);

CREATE TABLE IF NOT EXISTS issue_scores (
	id TEXT PRIMARY KEY,
	repo TEXT NOT NULL,
	issue_number INTEGER NOT NULL,
	comment_id INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT 'task',
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	issue_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	format_score INTEGER NOT NULL DEFAULT 0,
	format_feedback TEXT NOT NULL DEFAULT '',
	content_score INTEGER NOT NULL DEFAULT 0,
	content_feedback TEXT NOT NULL DEFAULT '',
	clarity_score INTEGER NOT NULL DEFAULT 0,
	clarity_feedback TEXT NOT NULL DEFAULT '',
	actionability_score INTEGER NOT NULL DEFAULT 0,
	actionability_feedback TEXT NOT NULL DEFAULT '',
	overall_score INTEGER NOT NULL DEFAULT 0,
	suggestions TEXT NOT NULL DEFAULT '[]',
	user_feedback TEXT NOT NULL DEFAULT '',
	ignored INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	completed_at TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_issue_scores_unique
	ON issue_scores(repo, issue_number, comment_id);
CREATE INDEX IF NOT EXISTS idx_issue_scores_author ON issue_scores(author);

CREATE TABLE IF NOT EXISTS feedback_patterns (
	pattern_id TEXT PRIMARY KEY,
	pattern_type TEXT NOT NULL,
	dimension TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 0,
	deviation_sum REAL NOT NULL DEFAULT 0,
	deviation_count INTEGER NOT NULL DEFAULT 0,
	example_feedbacks TEXT NOT NULL DEFAULT '[]',
	identified_issue TEXT NOT NULL DEFAULT '',
	suggested_adjustment TEXT NOT NULL DEFAULT '',
	last_seen TEXT NOT NULL DEFAULT (datetime('now')),
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS feedback_snapshots (
	id TEXT PRIMARY KEY,
	snapshot_date TEXT NOT NULL,
	total_feedbacks INTEGER NOT NULL DEFAULT 0,
	positive INTEGER NOT NULL DEFAULT 0,
	negative INTEGER NOT NULL DEFAULT 0,
	neutral INTEGER NOT NULL DEFAULT 0,
	top_issues TEXT NOT NULL DEFAULT '[]',
	learning_insights TEXT NOT NULL DEFAULT '[]',
	prompt_adjustments TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT '',
	repo TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	number INTEGER NOT NULL DEFAULT 0,
	routed_to TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_created ON webhook_events(created_at);
`

func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Tx runs fn within a database transaction. If fn returns an error, the
// transaction is rolled back; otherwise it is committed.
func (db *DB) Tx(fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// Tx wraps a sql.Tx for use within transactional operations.
type Tx struct {
	tx *sql.Tx
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// fmtTime renders a timestamp for storage; the zero time becomes the empty
// string so "never happened" stays distinguishable.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func marshalStrings(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalStrings(data string) []string {
	var list []string
	json.Unmarshal([]byte(data), &list)
	return list
}
