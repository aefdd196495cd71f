package repository

import (
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"kiln_control/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

var sampleCols = []string{"id", "session_id", "taken_at", "thermocouple_c", "estimate_c", "setpoint_c", "duty", "stage"}

func newSampleRepo(t *testing.T) (*SampleSQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSampleSQLite(db), mock
}

func TestSampleSQLite_Append(t *testing.T) {
	repo, mock := newSampleRepo(t)
	at := time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC)
	tc := 300.25

	mock.ExpectExec(regexp.QuoteMeta(insertSampleSQL)).
		WithArgs("s1", at, 300.25, 310.0, 320.0, 0.5, "Heating").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertSampleSQL)).
		WithArgs("s1", at, nil, 310.0, 320.0, 0.0, "Heating").
		WillReturnError(errors.New("disk full"))

	if err := repo.Append(ctx(t), models.Sample{SessionID: "s1", TakenAt: at, ThermocoupleC: &tc, EstimateC: 310, SetpointC: 320, Duty: 0.5, Stage: "Heating"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := repo.Append(ctx(t), models.Sample{SessionID: "s1", TakenAt: at, EstimateC: 310, SetpointC: 320, Stage: "Heating"}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestSampleSQLite_List(t *testing.T) {
	cases := []struct {
		name  string
		q     SampleQuery
		query string
		args  []driver.Value
	}{
		{
			name:  "all",
			query: selectSampleSQL + " ORDER BY taken_at ASC",
		},
		{
			name:  "session with range and limit",
			q:     SampleQuery{SessionID: "s1", From: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), Limit: 100},
			query: selectSampleSQL + " WHERE session_id = ? AND taken_at >= ? AND taken_at <= ? ORDER BY taken_at ASC LIMIT ?",
			args:  []driver.Value{"s1", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), 100},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newSampleRepo(t)
			at := time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC)
			rows := sqlmock.NewRows(sampleCols).
				AddRow(1, "s1", at, 300.0, 305.0, 310.0, 0.3, "Heating").
				AddRow(2, "s1", at.Add(time.Minute), nil, 306.0, 311.0, 0.3, "Heating")

			exp := mock.ExpectQuery(regexp.QuoteMeta(tc.query))
			if len(tc.args) > 0 {
				exp = exp.WithArgs(tc.args...)
			}
			exp.WillReturnRows(rows)

			got, err := repo.List(ctx(t), tc.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 || got[0].ThermocoupleC == nil || *got[0].ThermocoupleC != 300 || got[1].ThermocoupleC != nil {
				t.Fatalf("unexpected samples: %+v", got)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("mock expectations: %v", err)
			}
		})
	}
}
