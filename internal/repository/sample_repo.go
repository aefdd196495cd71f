package repository

import (
	"context"
	"database/sql"
	"fmt"

	"kiln_control/internal/models"
)

type SampleSQLite struct {
	db *sql.DB
}

func NewSampleSQLite(db *sql.DB) *SampleSQLite { return &SampleSQLite{db: db} }

const (
	insertSampleSQL = `INSERT INTO firing_samples (session_id, taken_at, thermocouple_c, estimate_c, setpoint_c, duty, stage) VALUES (?, ?, ?, ?, ?, ?, ?)`
	selectSampleSQL = `SELECT id, session_id, taken_at, thermocouple_c, estimate_c, setpoint_c, duty, stage FROM firing_samples`
)

func (r *SampleSQLite) Append(ctx context.Context, s models.Sample) error {
	_, err := r.db.ExecContext(ctx, insertSampleSQL,
		s.SessionID,
		s.TakenAt.UTC(),
		nullFloat(s.ThermocoupleC),
		s.EstimateC,
		s.SetpointC,
		s.Duty,
		s.Stage,
	)
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

// List returns samples oldest first.
func (r *SampleSQLite) List(ctx context.Context, q SampleQuery) ([]models.Sample, error) {
	var w where
	if q.SessionID != "" {
		w.eq("session_id", q.SessionID)
	}
	w.between("taken_at", q.From, q.To)

	query := w.sql(selectSampleSQL) + " ORDER BY taken_at ASC"
	args := w.args
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []models.Sample
	for rows.Next() {
		var (
			s  models.Sample
			tc sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &s.TakenAt, &tc, &s.EstimateC, &s.SetpointC, &s.Duty, &s.Stage); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.ThermocoupleC = floatPtr(tc)
		s.TakenAt = s.TakenAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	return out, nil
}
