package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxPatternExamples caps how many feedback excerpts a pattern retains.
const maxPatternExamples = 5

// FeedbackPattern aggregates recurring user feedback on scores, keyed by
// "{type}:{dimension}" (e.g. "score_too_high:overall"). The average score
// deviation is a running mean over deviation_sum / deviation_count, so
// observations without a usable deviation still bump the occurrence count
// without skewing the average.
type FeedbackPattern struct {
	PatternID           string    `json:"pattern_id"`
	PatternType         string    `json:"pattern_type"`
	Dimension           string    `json:"dimension"`
	OccurrenceCount     int       `json:"occurrence_count"`
	DeviationSum        float64   `json:"-"`
	DeviationCount      int       `json:"-"`
	AvgScoreDeviation   float64   `json:"avg_score_deviation"`
	ExampleFeedbacks    []string  `json:"example_feedbacks"`
	IdentifiedIssue     string    `json:"identified_issue"`
	SuggestedAdjustment string    `json:"suggested_adjustment"`
	LastSeen            time.Time `json:"last_seen"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PatternObservation is one analyzed piece of user feedback to fold into a
// pattern.
type PatternObservation struct {
	PatternType         string
	Dimension           string
	ScoreDeviation      float64
	HasDeviation        bool
	Example             string
	IdentifiedIssue     string
	SuggestedAdjustment string
}

// PatternKey builds the canonical pattern identifier.
func PatternKey(patternType, dimension string) string {
	return patternType + ":" + dimension
}

// RecordPatternObservation upserts a feedback pattern: the first observation
// creates the row, later ones bump the occurrence count, fold the deviation
// into the running mean and keep the newest examples up to the cap.
func (db *DB) RecordPatternObservation(obs PatternObservation) (FeedbackPattern, error) {
	id := PatternKey(obs.PatternType, obs.Dimension)
	now := time.Now().UTC()

	var out FeedbackPattern
	err := db.Tx(func(tx *Tx) error {
		existing, err := tx.getFeedbackPattern(id)
		switch {
		case err == sql.ErrNoRows:
			existing = FeedbackPattern{
				PatternID:   id,
				PatternType: obs.PatternType,
				Dimension:   obs.Dimension,
				CreatedAt:   now,
			}
		case err != nil:
			return err
		}

		existing.OccurrenceCount++
		if obs.HasDeviation {
			existing.DeviationSum += obs.ScoreDeviation
			existing.DeviationCount++
		}
		if obs.Example != "" {
			existing.ExampleFeedbacks = append(existing.ExampleFeedbacks, obs.Example)
			if n := len(existing.ExampleFeedbacks); n > maxPatternExamples {
				existing.ExampleFeedbacks = existing.ExampleFeedbacks[n-maxPatternExamples:]
			}
		}
		if obs.IdentifiedIssue != "" {
			existing.IdentifiedIssue = obs.IdentifiedIssue
		}
		if obs.SuggestedAdjustment != "" {
			existing.SuggestedAdjustment = obs.SuggestedAdjustment
		}
		existing.LastSeen = now
		existing.UpdatedAt = now

		_, err = tx.tx.Exec(`
			INSERT INTO feedback_patterns (pattern_id, pattern_type, dimension,
				occurrence_count, deviation_sum, deviation_count, example_feedbacks,
				identified_issue, suggested_adjustment, last_seen, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(pattern_id) DO UPDATE SET
				occurrence_count = excluded.occurrence_count,
				deviation_sum = excluded.deviation_sum,
				deviation_count = excluded.deviation_count,
				example_feedbacks = excluded.example_feedbacks,
				identified_issue = excluded.identified_issue,
				suggested_adjustment = excluded.suggested_adjustment,
				last_seen = excluded.last_seen,
				updated_at = excluded.updated_at`,
			existing.PatternID, existing.PatternType, existing.Dimension,
			existing.OccurrenceCount, existing.DeviationSum, existing.DeviationCount,
			marshalStrings(existing.ExampleFeedbacks), existing.IdentifiedIssue,
			existing.SuggestedAdjustment, fmtTime(existing.LastSeen),
			fmtTime(existing.CreatedAt), fmtTime(existing.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upserting feedback pattern: %w", err)
		}

		if existing.DeviationCount > 0 {
			existing.AvgScoreDeviation = existing.DeviationSum / float64(existing.DeviationCount)
		}
		out = existing
		return nil
	})
	return out, err
}

// ListFeedbackPatterns returns patterns seen since the given time with at
// least minOccurrences observations, most frequent first.
func (db *DB) ListFeedbackPatterns(since time.Time, minOccurrences int) ([]FeedbackPattern, error) {
	rows, err := db.conn.Query(feedbackPatternColumns+`
		WHERE last_seen >= ? AND occurrence_count >= ?
		ORDER BY occurrence_count DESC, last_seen DESC`,
		fmtTime(since), minOccurrences)
	if err != nil {
		return nil, fmt.Errorf("listing feedback patterns: %w", err)
	}
	defer rows.Close()

	var patterns []FeedbackPattern
	for rows.Next() {
		p, err := scanFeedbackPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// FeedbackSnapshot is a periodic aggregate of learning state, kept so the
// evolution of feedback trends survives pattern updates.
type FeedbackSnapshot struct {
	ID                string    `json:"id"`
	SnapshotDate      string    `json:"snapshot_date"`
	TotalFeedbacks    int       `json:"total_feedbacks"`
	Positive          int       `json:"positive"`
	Negative          int       `json:"negative"`
	Neutral           int       `json:"neutral"`
	TopIssues         []string  `json:"top_issues"`
	LearningInsights  []string  `json:"learning_insights"`
	PromptAdjustments []string  `json:"prompt_adjustments"`
	CreatedAt         time.Time `json:"created_at"`
}

func (db *DB) CreateFeedbackSnapshot(snap FeedbackSnapshot) (FeedbackSnapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	snap.CreatedAt = time.Now().UTC()
	if snap.SnapshotDate == "" {
		snap.SnapshotDate = snap.CreatedAt.Format("2006-01-02")
	}

	_, err := db.conn.Exec(`
		INSERT INTO feedback_snapshots (id, snapshot_date, total_feedbacks,
			positive, negative, neutral, top_issues, learning_insights,
			prompt_adjustments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SnapshotDate, snap.TotalFeedbacks, snap.Positive,
		snap.Negative, snap.Neutral, marshalStrings(snap.TopIssues),
		marshalStrings(snap.LearningInsights), marshalStrings(snap.PromptAdjustments),
		fmtTime(snap.CreatedAt))
	if err != nil {
		return FeedbackSnapshot{}, fmt.Errorf("inserting feedback snapshot: %w", err)
	}
	return snap, nil
}

func (db *DB) ListFeedbackSnapshots(limit int) ([]FeedbackSnapshot, error) {
	query := `
		SELECT id, snapshot_date, total_feedbacks, positive, negative, neutral,
			top_issues, learning_insights, prompt_adjustments, created_at
		FROM feedback_snapshots ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing feedback snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []FeedbackSnapshot
	for rows.Next() {
		var s FeedbackSnapshot
		var topIssues, insights, adjustments, createdAt string
		err := rows.Scan(&s.ID, &s.SnapshotDate, &s.TotalFeedbacks, &s.Positive,
			&s.Negative, &s.Neutral, &topIssues, &insights, &adjustments, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning feedback snapshot: %w", err)
		}
		s.TopIssues = unmarshalStrings(topIssues)
		s.LearningInsights = unmarshalStrings(insights)
		s.PromptAdjustments = unmarshalStrings(adjustments)
		s.CreatedAt = parseTime(createdAt)
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

const feedbackPatternColumns = `
	SELECT pattern_id, pattern_type, dimension, occurrence_count,
		deviation_sum, deviation_count, example_feedbacks, identified_issue,
		suggested_adjustment, last_seen, created_at, updated_at
	FROM feedback_patterns`

func (tx *Tx) getFeedbackPattern(id string) (FeedbackPattern, error) {
	row := tx.tx.QueryRow(feedbackPatternColumns+` WHERE pattern_id = ?`, id)
	var p FeedbackPattern
	var examples, lastSeen, createdAt, updatedAt string
	err := row.Scan(&p.PatternID, &p.PatternType, &p.Dimension, &p.OccurrenceCount,
		&p.DeviationSum, &p.DeviationCount, &examples, &p.IdentifiedIssue,
		&p.SuggestedAdjustment, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return FeedbackPattern{}, err
	}
	p.ExampleFeedbacks = unmarshalStrings(examples)
	p.LastSeen = parseTime(lastSeen)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if p.DeviationCount > 0 {
		p.AvgScoreDeviation = p.DeviationSum / float64(p.DeviationCount)
	}
	return p, nil
}

func scanFeedbackPattern(rows *sql.Rows) (FeedbackPattern, error) {
	var p FeedbackPattern
	var examples, lastSeen, createdAt, updatedAt string
	err := rows.Scan(&p.PatternID, &p.PatternType, &p.Dimension, &p.OccurrenceCount,
		&p.DeviationSum, &p.DeviationCount, &examples, &p.IdentifiedIssue,
		&p.SuggestedAdjustment, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return FeedbackPattern{}, fmt.Errorf("scanning feedback pattern: %w", err)
	}
	p.ExampleFeedbacks = unmarshalStrings(examples)
	p.LastSeen = parseTime(lastSeen)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if p.DeviationCount > 0 {
		p.AvgScoreDeviation = p.DeviationSum / float64(p.DeviationCount)
	}
	return p, nil
}
