// Package postgres persists audit events in PostgreSQL for deployments that
// query them directly instead of consuming the Kafka topic.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "chatguard/pkg/platform/audit"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS audit_events (
	id          UUID PRIMARY KEY,
	category    TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	ip          TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL DEFAULT '',
	details     JSONB
)`,
	`CREATE INDEX IF NOT EXISTS audit_events_subject_idx ON audit_events (subject, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS audit_events_action_idx ON audit_events (action, timestamp DESC)`,
}

const selectColumns = `category, timestamp, subject, action, reason, ip, request_id, actor_id, severity, details`

// Store implements audit.Store on an audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create audit table: %w", err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	var details []byte
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, category, timestamp, subject, action, reason, ip, request_id, actor_id, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.Subject,
		event.Action,
		event.Reason,
		event.IP,
		event.RequestID,
		event.ActorID,
		string(event.Severity),
		details,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns events for one subject, newest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM audit_events WHERE subject = $1 ORDER BY timestamp DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByActions returns the newest events whose action is one of actions.
func (s *Store) ListByActions(ctx context.Context, actions []audit.AuditEvent, limit int) ([]audit.Event, error) {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM audit_events WHERE action = ANY($1) ORDER BY timestamp DESC LIMIT $2`, pq.Array(names), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			severity string
			details  []byte
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.Subject,
			&event.Action,
			&event.Reason,
			&event.IP,
			&event.RequestID,
			&event.ActorID,
			&severity,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Severity = audit.Severity(severity)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
