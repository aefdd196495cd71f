package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kiln_control/internal/models"
)

// StateSQLite keeps the latest kiln snapshot in a single row.
type StateSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewStateSQLite(db *sql.DB) *StateSQLite {
	return &StateSQLite{db: db, now: time.Now}
}

const (
	kilnStateRowID = 1

	upsertStateSQL = `
		INSERT INTO kiln_state (id, status, curve, session_id, temp_c, thermocouple_c, target_c, duty, stage, elapsed_s, remaining_s, progress, errors, running, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			curve=excluded.curve,
			session_id=excluded.session_id,
			temp_c=excluded.temp_c,
			thermocouple_c=excluded.thermocouple_c,
			target_c=excluded.target_c,
			duty=excluded.duty,
			stage=excluded.stage,
			elapsed_s=excluded.elapsed_s,
			remaining_s=excluded.remaining_s,
			progress=excluded.progress,
			errors=excluded.errors,
			running=excluded.running,
			updated_at=excluded.updated_at
	`

	selectStateSQL = `
		SELECT id, status, curve, session_id, temp_c, thermocouple_c, target_c, duty, stage, elapsed_s, remaining_s, progress, errors, running, updated_at
		FROM kiln_state WHERE id=?
	`
)

// Error codes are kept as a JSON array in a TEXT column.
func encodeCodes(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	b, err := json.Marshal(codes)
	return string(b), err
}

func decodeCodes(s string) ([]string, error) {
	var codes []string
	if s == "" || s == "null" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Save replaces the single kiln_state row. A zero UpdatedAt means now.
func (r *StateSQLite) Save(ctx context.Context, state models.KilnState) error {
	codes, err := encodeCodes(state.ErrorCodes)
	if err != nil {
		return fmt.Errorf("encode error codes: %w", err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = r.now()
	}

	if _, err := r.db.ExecContext(ctx, upsertStateSQL,
		kilnStateRowID,
		state.Status,
		state.Curve,
		state.SessionID,
		state.CurrentTempC,
		nullFloat(state.ThermocoupleC),
		state.TargetTempC,
		state.Duty,
		state.Stage,
		state.ElapsedSeconds,
		state.RemainingSeconds,
		state.Progress,
		codes,
		state.IsRunning,
		updated.UTC(),
	); err != nil {
		return fmt.Errorf("save kiln state: %w", err)
	}
	return nil
}

// Load reads the kiln_state row; before the first Save it returns the zero
// state.
func (r *StateSQLite) Load(ctx context.Context) (models.KilnState, error) {
	var (
		s     models.KilnState
		tc    sql.NullFloat64
		codes string
	)
	err := r.db.QueryRowContext(ctx, selectStateSQL, kilnStateRowID).Scan(
		&s.ID, &s.Status, &s.Curve, &s.SessionID,
		&s.CurrentTempC, &tc, &s.TargetTempC, &s.Duty,
		&s.Stage, &s.ElapsedSeconds, &s.RemainingSeconds, &s.Progress,
		&codes, &s.IsRunning, &s.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.KilnState{}, nil
	case err != nil:
		return models.KilnState{}, fmt.Errorf("load kiln state: %w", err)
	}

	if s.ErrorCodes, err = decodeCodes(codes); err != nil {
		return models.KilnState{}, fmt.Errorf("decode error codes: %w", err)
	}
	s.ThermocoupleC = floatPtr(tc)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
