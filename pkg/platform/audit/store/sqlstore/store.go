// Package sqlstore persists audit events in the backend database's
// audit_events table. It works with any database/sql driver; callers pass
// the dialect's placeholder style.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "civreg/pkg/domain"
	audit "civreg/pkg/platform/audit"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Dollar is the postgres placeholder style.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Question is the sqlite placeholder style.
func Question(int) string { return "?" }

type Store struct {
	db *sql.DB
	ph Placeholder
}

func New(db *sql.DB, ph Placeholder) *Store {
	if ph == nil {
		ph = Dollar
	}
	return &Store{db: db, ph: ph}
}

func (s *Store) bind(query string, n int) string {
	for i := 1; i <= n; i++ {
		query = strings.Replace(query, fmt.Sprintf(":%d", i), s.ph(i), 1)
	}
	return query
}

// Append inserts event under a fresh event id.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	return s.AppendWithID(ctx, uuid.New(), event)
}

// AppendWithID inserts event with a caller-chosen id. Re-inserting the same
// id is a no-op, so redelivered events are stored once.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	userID := ""
	if !event.UserID.IsNil() {
		userID = event.UserID.String()
	}
	query := s.bind(`
		INSERT INTO audit_events (
			event_id, category, occurred_at, user_id, subject,
			action, reason, request_id, actor_id
		)
		VALUES (:1, :2, :3, :4, :5, :6, :7, :8, :9)
		ON CONFLICT (event_id) DO NOTHING
	`, 9)
	_, err := s.db.ExecContext(ctx, query,
		eventID.String(),
		string(category),
		event.Timestamp.UTC(),
		userID,
		event.Subject,
		event.Action,
		event.Reason,
		event.RequestID,
		event.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns a user's events in append order.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := s.bind(`
		SELECT category, occurred_at, user_id, subject, action, reason, request_id, actor_id
		FROM audit_events
		WHERE user_id = :1
		ORDER BY seq
	`, 1)
	rows, err := s.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns up to limit events across all users, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := s.bind(`
		SELECT category, occurred_at, user_id, subject, action, reason, request_id, actor_id
		FROM audit_events
		ORDER BY seq DESC
		LIMIT :1
	`, 1)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	events := []audit.Event{}
	for rows.Next() {
		var (
			event      audit.Event
			category   string
			occurredAt any
			userID     string
		)
		err := rows.Scan(
			&category,
			&occurredAt,
			&userID,
			&event.Subject,
			&event.Action,
			&event.Reason,
			&event.RequestID,
			&event.ActorID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if event.Timestamp, err = toTime(occurredAt); err != nil {
			return nil, err
		}
		if userID != "" {
			parsed, err := id.ParseUserID(userID)
			if err != nil {
				return nil, fmt.Errorf("scan audit event user: %w", err)
			}
			event.UserID = parsed
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// toTime accepts the native time values of lib/pq and the text encodings
// sqlite may hand back.
func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return toTime(string(t))
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable audit timestamp %q", t)
	}
	return time.Time{}, fmt.Errorf("unexpected audit timestamp type %T", v)
}
