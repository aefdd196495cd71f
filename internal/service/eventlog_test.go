package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiln_control/internal/models"
	"kiln_control/internal/repository"
	"kiln_control/internal/supervisor"
)

// fakeEventRepo satisfies repository.EventRepo and records the last query.
type fakeEventRepo struct {
	got    repository.EventQuery
	events []models.KilnEvent
	err    error

	calls    int
	appended []models.KilnEvent
}

func (f *fakeEventRepo) List(_ context.Context, q repository.EventQuery) ([]models.KilnEvent, error) {
	f.calls++
	f.got = q
	return f.events, f.err
}

func (f *fakeEventRepo) Append(_ context.Context, e models.KilnEvent) error {
	f.appended = append(f.appended, e)
	return f.err
}

func TestNormalizeToUTC(t *testing.T) {
	if got := normalizeToUTC(time.Time{}); !got.IsZero() {
		t.Fatalf("zero time became %v", got)
	}
	// kiln start logged at 21:40 in Tashkent (+05)
	local := time.Date(2025, time.August, 1, 21, 40, 0, 0, time.FixedZone("UZT", 5*3600))
	got := normalizeToUTC(local)
	if got.Location() != time.UTC || !got.Equal(time.Date(2025, time.August, 1, 16, 40, 0, 0, time.UTC)) {
		t.Fatalf("normalizeToUTC = %v", got)
	}
}

func TestNormalizeEventType(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"  START ":        supervisor.EventStart,
		"sensor_fault":    supervisor.EventSensorFault,
		" Safety-Fault ":  supervisor.EventSafetyFault,
		"schedule_change": supervisor.EventScheduleChange,
	}
	for in, want := range cases {
		if got := normalizeEventType(in); got != want {
			t.Errorf("normalizeEventType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAndValidateFilter(t *testing.T) {
	evening := time.Date(2025, time.September, 10, 20, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		in      LogFilter
		want    repository.EventQuery
		wantErr error
	}{
		{name: "empty filter", in: LogFilter{}},
		{
			name: "bisque session events after 20:00",
			in:   LogFilter{From: evening.In(time.FixedZone("CEST", 2*3600)), Type: " recovered ", SessionID: " s-1 "},
			want: repository.EventQuery{From: evening, Type: supervisor.EventRecovered, SessionID: "s-1"},
		},
		{
			name:    "reversed range",
			in:      LogFilter{From: evening, To: evening.Add(-time.Hour)},
			wantErr: errInvalidTimeRange,
		},
		{
			name:    "unknown type",
			in:      LogFilter{Type: "overheat"},
			wantErr: errUnknownEventType,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := normalizeAndValidateFilter(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) || !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want %v wrapped in ErrInvalidInput", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !q.From.Equal(tc.want.From) || !q.To.Equal(tc.want.To) || q.Type != tc.want.Type || q.SessionID != tc.want.SessionID {
				t.Fatalf("query = %+v, want %+v", q, tc.want)
			}
		})
	}
}

func TestEventLogService_List(t *testing.T) {
	repo := &fakeEventRepo{events: []models.KilnEvent{{EventID: "e1", Type: supervisor.EventSensorError}}}
	svc := NewEventLogService(repo)

	from := time.Date(2025, time.October, 1, 10, 0, 0, 0, time.FixedZone("UTC+5", 5*3600))
	to := time.Date(2025, time.October, 1, 12, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	out, err := svc.List(context.Background(), LogFilter{From: from, To: to, Type: "sensor_error"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 || out[0].EventID != "e1" || repo.calls != 1 {
		t.Fatalf("events=%+v calls=%d", out, repo.calls)
	}
	if !repo.got.From.Equal(time.Date(2025, time.October, 1, 5, 0, 0, 0, time.UTC)) ||
		!repo.got.To.Equal(time.Date(2025, time.October, 1, 14, 30, 0, 0, time.UTC)) ||
		repo.got.Type != supervisor.EventSensorError {
		t.Fatalf("repo query = %+v", repo.got)
	}
}

func TestEventLogService_ListErrors(t *testing.T) {
	t.Run("validation stops before the repository", func(t *testing.T) {
		repo := &fakeEventRepo{}
		_, err := NewEventLogService(repo).List(context.Background(), LogFilter{Type: "PREHEAT"})
		if !errors.Is(err, ErrInvalidInput) || repo.calls != 0 {
			t.Fatalf("err=%v calls=%d", err, repo.calls)
		}
	})
	t.Run("repository error propagates", func(t *testing.T) {
		repo := &fakeEventRepo{err: errors.New("db down")}
		_, err := NewEventLogService(repo).List(context.Background(), LogFilter{})
		if !errors.Is(err, repo.err) || repo.calls != 1 {
			t.Fatalf("err=%v calls=%d", err, repo.calls)
		}
	})
}
