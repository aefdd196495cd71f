package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kiln_control/internal/models"

	"github.com/google/uuid"
)

type EventSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewEventSQLite(db *sql.DB) *EventSQLite { return &EventSQLite{db: db, now: time.Now} }

const (
	insertEventSQL = `INSERT INTO kiln_events (id, occurred_at, type, session_id, message, meta) VALUES (?, ?, ?, ?, ?, ?)`
	selectEventSQL = `SELECT id, occurred_at, type, session_id, message, meta FROM kiln_events`
)

func eventType(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// encodeMeta stores metadata as JSON text. Values that do not encode are dropped.
func encodeMeta(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// decodeMeta is the inverse of encodeMeta. Text that is not JSON comes back as a string.
func decodeMeta(s sql.NullString) any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return s.String
	}
	return v
}

// Append stores e. A missing EventID gets a UUID and a zero OccurredAt the
// current time.
func (r *EventSQLite) Append(ctx context.Context, e models.KilnEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	typ := eventType(e.Type)

	if _, err := r.db.ExecContext(ctx, insertEventSQL,
		e.EventID, at.UTC(), typ, e.SessionID, e.Description, encodeMeta(e.Metadata),
	); err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	return nil
}

// List returns the events matching q, oldest first.
func (r *EventSQLite) List(ctx context.Context, q EventQuery) ([]models.KilnEvent, error) {
	var w where
	w.between("occurred_at", q.From, q.To)
	if typ := eventType(q.Type); typ != "" {
		w.eq("type", typ)
	}
	if q.SessionID != "" {
		w.eq("session_id", q.SessionID)
	}

	rows, err := r.db.QueryContext(ctx, w.sql(selectEventSQL)+" ORDER BY occurred_at ASC", w.args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []models.KilnEvent{}
	for rows.Next() {
		var (
			ev   models.KilnEvent
			meta sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Type, &ev.SessionID, &ev.Description, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		ev.Metadata = decodeMeta(meta)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
