package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is one delivery recorded by the gateway: what arrived, which
// workers it was forwarded to and whether forwarding succeeded.
type WebhookEvent struct {
	ID           string    `json:"id"`
	EventType    string    `json:"event_type"`
	Action       string    `json:"action"`
	Repo         string    `json:"repo"`
	Sender       string    `json:"sender"`
	Number       int       `json:"number"`
	RoutedTo     []string  `json:"routed_to"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (db *DB) RecordWebhookEvent(ev WebhookEvent) (WebhookEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.CreatedAt = time.Now().UTC()

	_, err := db.conn.Exec(`
		INSERT INTO webhook_events (id, event_type, action, repo, sender, number,
			routed_to, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.Action, ev.Repo, ev.Sender, ev.Number,
		marshalStrings(ev.RoutedTo), ev.Status, ev.ErrorMessage, fmtTime(ev.CreatedAt))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("inserting webhook event: %w", err)
	}
	return ev, nil
}

func (db *DB) ListWebhookEvents(limit int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`
		SELECT id, event_type, action, repo, sender, number, routed_to,
			status, error_message, created_at
		FROM webhook_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook events: %w", err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var ev WebhookEvent
		var routedTo, createdAt string
		err := rows.Scan(&ev.ID, &ev.EventType, &ev.Action, &ev.Repo, &ev.Sender,
			&ev.Number, &routedTo, &ev.Status, &ev.ErrorMessage, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		ev.RoutedTo = unmarshalStrings(routedTo)
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteOldWebhookEvents trims history older than the cutoff.
func (db *DB) DeleteOldWebhookEvents(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM webhook_events WHERE created_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old webhook events: %w", err)
	}
	return res.RowsAffected()
}
