package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"kiln_control/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

var eventCols = []string{"id", "occurred_at", "type", "session_id", "message", "meta"}

func newEventRepo(t *testing.T) (*EventSQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("sqlmock expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewEventSQLite(db), mock
}

func TestEventSQLite_Append(t *testing.T) {
	firedAt := time.Date(2025, 8, 14, 23, 40, 0, 0, time.FixedZone("CEST", 2*3600))
	clock := time.Date(2025, 8, 15, 1, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		ev   models.KilnEvent
		args []driver.Value
	}{
		{
			name: "kept id and time",
			ev:   models.KilnEvent{EventID: "ev-9", OccurredAt: firedAt, Type: "COMPLETE", SessionID: "f-42", Description: "curve finished"},
			args: []driver.Value{"ev-9", firedAt.UTC(), "COMPLETE", "f-42", "curve finished", nil},
		},
		{
			name: "generated id, clock time, normalized type",
			ev: models.KilnEvent{
				Type:        " sensor_fault ",
				SessionID:   "f-42",
				Description: "thermocouple lost",
				Metadata:    map[string]any{"failures": 3},
			},
			args: []driver.Value{sqlmock.AnyArg(), clock, "SENSOR_FAULT", "f-42", "thermocouple lost", `{"failures":3}`},
		},
		{
			name: "unencodable metadata is dropped",
			ev:   models.KilnEvent{EventID: "ev-10", OccurredAt: clock, Type: "STOP", Metadata: func() {}},
			args: []driver.Value{"ev-10", clock, "STOP", "", "", nil},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			repo, mock := newEventRepo(t)
			repo.now = func() time.Time { return clock }
			mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
				WithArgs(c.args...).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := repo.Append(ctx(t), c.ev); err != nil {
				t.Fatalf("Append: %v", err)
			}
		})
	}
}

func TestEventSQLite_AppendError(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).WillReturnError(sql.ErrTxDone)

	err := repo.Append(ctx(t), models.KilnEvent{Type: "start", Description: "firing started"})
	if !errors.Is(err, sql.ErrTxDone) {
		t.Fatalf("Append err = %v", err)
	}
}

func TestEventSQLite_ListFilters(t *testing.T) {
	from := time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	order := " ORDER BY occurred_at ASC"

	cases := []struct {
		name  string
		q     EventQuery
		where string
		args  []driver.Value
	}{
		{name: "everything", where: ""},
		{name: "one session", q: EventQuery{SessionID: "f-42"}, where: " WHERE session_id = ?", args: []driver.Value{"f-42"}},
		{name: "open ended", q: EventQuery{From: from}, where: " WHERE occurred_at >= ?", args: []driver.Value{from}},
		{
			name:  "day of faults",
			q:     EventQuery{From: from, To: to, Type: "safety_fault ", SessionID: "f-42"},
			where: " WHERE occurred_at >= ? AND occurred_at <= ? AND type = ? AND session_id = ?",
			args:  []driver.Value{from, to, "SAFETY_FAULT", "f-42"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			repo, mock := newEventRepo(t)
			exp := mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL + c.where + order))
			if len(c.args) > 0 {
				exp = exp.WithArgs(c.args...)
			}
			exp.WillReturnRows(sqlmock.NewRows(eventCols))

			got, err := repo.List(ctx(t), c.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("List = %#v, want empty slice", got)
			}
		})
	}
}

func TestEventSQLite_ListDecodesRows(t *testing.T) {
	repo, mock := newEventRepo(t)
	at := time.Date(2025, 8, 14, 22, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL)).WillReturnRows(sqlmock.NewRows(eventCols).
		AddRow("e1", at, "START", "f-42", "firing started", `{"curve":"Stoneware"}`).
		AddRow("e2", at.Add(time.Minute), "SENSOR_ERROR", "f-42", "read failed", nil).
		AddRow("e3", at.Add(2*time.Minute), "CALIBRATE", "f-42", "ir offset", "offset=12"))

	got, err := repo.List(ctx(t), EventQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	if !got[0].OccurredAt.Equal(at) || got[0].OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred_at = %v", got[0].OccurredAt)
	}
	wantMeta := []any{map[string]any{"curve": "Stoneware"}, nil, "offset=12"}
	for i, ev := range got {
		if !reflect.DeepEqual(ev.Metadata, wantMeta[i]) {
			t.Errorf("event %s metadata = %#v, want %#v", ev.EventID, ev.Metadata, wantMeta[i])
		}
	}
}

func TestEventSQLite_ListErrors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		repo, mock := newEventRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL)).WillReturnError(sql.ErrConnDone)
		if _, err := repo.List(ctx(t), EventQuery{}); !errors.Is(err, sql.ErrConnDone) {
			t.Fatalf("List err = %v", err)
		}
	})

	t.Run("scan", func(t *testing.T) {
		repo, mock := newEventRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL)).WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("e1", "yesterday", "STOP", "", "stopped", nil))
		if _, err := repo.List(ctx(t), EventQuery{}); err == nil {
			t.Fatal("expected scan error")
		}
	})

	t.Run("row iteration", func(t *testing.T) {
		repo, mock := newEventRepo(t)
		rows := sqlmock.NewRows(eventCols).
			AddRow("e1", time.Now(), "STOP", "", "stopped", nil).
			RowError(0, errors.New("page corrupt"))
		mock.ExpectQuery(regexp.QuoteMeta(selectEventSQL)).WillReturnRows(rows)
		if _, err := repo.List(ctx(t), EventQuery{}); err == nil {
			t.Fatal("expected iteration error")
		}
	})
}
