package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kiln_control/internal/schedule"
	"kiln_control/internal/supervisor"
)

// fakeController records the commands queued on the regulation loop.
type fakeController struct {
	mu sync.Mutex

	snap supervisor.Snapshot
	err  error

	started     []*schedule.Table
	offsets     []time.Duration
	stops       int
	calibrated  []float64
	replacement *schedule.Table
}

func (f *fakeController) Start(table *schedule.Table, resumeOffset time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, table)
	f.offsets = append(f.offsets, resumeOffset)
	return "session-1", nil
}

func (f *fakeController) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stops++
	return nil
}

func (f *fakeController) CalibrateIR(irC float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calibrated = append(f.calibrated, irC)
	return nil
}

func (f *fakeController) SetSchedule(table *schedule.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replacement = table
	return nil
}

func (f *fakeController) Snapshot() supervisor.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func newKilnService(t *testing.T, ctrl *fakeController) *KilnService {
	t.Helper()
	return NewKilnService(ctrl, schedule.NewLibrary(t.TempDir()), "Bisquit", nil)
}

func TestKilnService_Start_DefaultCurve(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	svc := newKilnService(t, ctrl)

	id, err := svc.Start(context.Background(), StartParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "session-1" {
		t.Fatalf("session id = %q", id)
	}
	if len(ctrl.started) != 1 || ctrl.started[0].Name() != "Bisquit" {
		t.Fatalf("expected Bisquit to be started, got %+v", ctrl.started)
	}
	if ctrl.offsets[0] != 0 {
		t.Fatalf("offset = %v, want 0", ctrl.offsets[0])
	}
}

func TestKilnService_Start_ResumeOffset(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	svc := newKilnService(t, ctrl)

	if _, err := svc.Start(context.Background(), StartParams{Curve: " Glazing ", ResumeOffset: 90 * time.Minute}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctrl.started[0].Name() != "Glazing" || ctrl.offsets[0] != 90*time.Minute {
		t.Fatalf("started %q at %v", ctrl.started[0].Name(), ctrl.offsets[0])
	}
}

func TestKilnService_Start_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		params  StartParams
		wantErr error
	}{
		{"unknown curve", StartParams{Curve: "Raku"}, ErrCurveNotFound},
		{"negative offset", StartParams{ResumeOffset: -time.Second}, ErrInvalidInput},
		{"offset past end", StartParams{ResumeOffset: 12 * time.Hour}, ErrInvalidInput},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{}
			svc := newKilnService(t, ctrl)
			_, err := svc.Start(context.Background(), tc.params)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if len(ctrl.started) != 0 {
				t.Fatalf("controller must not be called on invalid input")
			}
		})
	}
}

func TestKilnService_Start_OffsetAtEndAllowed(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	svc := newKilnService(t, ctrl)
	if _, err := svc.Start(context.Background(), StartParams{ResumeOffset: 11 * time.Hour}); err != nil {
		t.Fatalf("offset equal to curve duration rejected: %v", err)
	}
}

func TestKilnService_ControllerErrorsPropagate(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{err: supervisor.ErrSafetyLatched}
	svc := newKilnService(t, ctrl)
	ctx := context.Background()

	if _, err := svc.Start(ctx, StartParams{}); !errors.Is(err, supervisor.ErrSafetyLatched) {
		t.Fatalf("Start: expected ErrSafetyLatched, got %v", err)
	}
	ctrl.err = supervisor.ErrNoSession
	if err := svc.Stop(ctx); !errors.Is(err, supervisor.ErrNoSession) {
		t.Fatalf("Stop: expected ErrNoSession, got %v", err)
	}
	if err := svc.SetSchedule(ctx, "Glazing"); !errors.Is(err, supervisor.ErrNoSession) {
		t.Fatalf("SetSchedule: expected ErrNoSession, got %v", err)
	}
	ctrl.err = supervisor.ErrBusy
	if err := svc.CalibrateIR(ctx, 850); !errors.Is(err, supervisor.ErrBusy) {
		t.Fatalf("CalibrateIR: expected ErrBusy, got %v", err)
	}
}

func TestKilnService_Stop(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	svc := newKilnService(t, ctrl)
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctrl.stops != 1 {
		t.Fatalf("stops = %d", ctrl.stops)
	}
}

func TestKilnService_CalibrateIR(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	svc := newKilnService(t, ctrl)
	ctx := context.Background()

	if err := svc.CalibrateIR(ctx, 861.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []float64{-100, 5000} {
		if err := svc.CalibrateIR(ctx, bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("CalibrateIR(%v): expected ErrInvalidInput, got %v", bad, err)
		}
	}
	if len(ctrl.calibrated) != 1 || ctrl.calibrated[0] != 861.5 {
		t.Fatalf("calibrated = %v", ctrl.calibrated)
	}
}

func TestKilnService_SetSchedule(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	svc := newKilnService(t, ctrl)
	ctx := context.Background()

	if err := svc.SetSchedule(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty curve: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.SetSchedule(ctx, "Raku"); !errors.Is(err, ErrCurveNotFound) {
		t.Fatalf("unknown curve: expected ErrCurveNotFound, got %v", err)
	}
	if err := svc.SetSchedule(ctx, "Glazing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctrl.replacement == nil || ctrl.replacement.Name() != "Glazing" {
		t.Fatalf("replacement = %v", ctrl.replacement)
	}
}
