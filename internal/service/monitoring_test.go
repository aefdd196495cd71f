package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiln_control/internal/firing"
	"kiln_control/internal/models"
	"kiln_control/internal/schedule"
	"kiln_control/internal/sensor"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"
)

// monitoringStateRepoStub is a local, uniquely named test stub that satisfies repository.StateRepo.
type monitoringStateRepoStub struct {
	loadResp   models.KilnState
	loadErr    error
	saveErr    error
	savedCalls []models.KilnState
}

func (s *monitoringStateRepoStub) Load(ctx context.Context) (models.KilnState, error) {
	return s.loadResp, s.loadErr
}

func (s *monitoringStateRepoStub) Save(ctx context.Context, state models.KilnState) error {
	s.savedCalls = append(s.savedCalls, state)
	return s.saveErr
}

type firingStatusStub struct{ stats firing.Stats }

func (f firingStatusStub) Stats() firing.Stats { return f.stats }

func TestMonitoringService_GetState_Persisted(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name       string
		repoResp   models.KilnState
		repoErr    error
		assertFunc func(t *testing.T, got models.KilnState, err error)
	}

	now := time.Now()

	cases := []testCase{
		{
			name:    "propagates repository error",
			repoErr: errors.New("db down"),
			assertFunc: func(t *testing.T, got models.KilnState, err error) {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if got.ID != 0 {
					t.Errorf("expected zero state ID, got %d", got.ID)
				}
			},
		},
		{
			name:     "returns baseline when no state (ID=0)",
			repoResp: models.KilnState{ID: 0},
			assertFunc: func(t *testing.T, got models.KilnState, err error) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.ID != 1 {
					t.Errorf("baseline ID: want 1, got %d", got.ID)
				}
				if got.Status != string(supervisor.StatusIdle) {
					t.Errorf("baseline Status: want IDLE, got %q", got.Status)
				}
				if got.CurrentTempC != defaultAmbientTempC {
					t.Errorf("baseline CurrentTempC: want %v, got %v", defaultAmbientTempC, got.CurrentTempC)
				}
				if got.IsRunning {
					t.Errorf("baseline IsRunning: want false")
				}
				assertWithin(t, got.UpdatedAt, 2*time.Second)
			},
		},
		{
			name: "returns persisted state normalized to UTC",
			repoResp: models.KilnState{
				ID:           1,
				Status:       "COMPLETE",
				Curve:        "Glazing",
				CurrentTempC: 412,
				UpdatedAt:    now.In(time.FixedZone("UTC+4", 4*3600)),
			},
			assertFunc: func(t *testing.T, got models.KilnState, err error) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Status != "COMPLETE" || got.Curve != "Glazing" || got.CurrentTempC != 412 {
					t.Errorf("unexpected state: %+v", got)
				}
				if got.UpdatedAt.Location() != time.UTC || !got.UpdatedAt.Equal(now) {
					t.Errorf("UpdatedAt: want %v in UTC, got %v", now, got.UpdatedAt)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			repo := &monitoringStateRepoStub{loadResp: tc.repoResp, loadErr: tc.repoErr}
			svc := NewMonitoringService(nil, repo, nil, nil)
			got, err := svc.GetState(context.Background())
			tc.assertFunc(t, got, err)
			if len(repo.savedCalls) != 0 {
				t.Errorf("GetState must not write state")
			}
		})
	}
}

func TestMonitoringService_GetState_LiveSnapshot(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ctrl := &fakeController{snap: supervisor.Snapshot{
		Status:     supervisor.StatusRunning,
		Curve:      "Bisquit",
		SessionID:  "s-9",
		Estimate:   640,
		Primary:    638,
		HasPrimary: true,
		Setpoint:   650,
		Duty:       0.42,
		Stage:      "Bisquit Firing",
		Elapsed:    5*time.Hour + 30*time.Minute,
		Remaining:  5*time.Hour + 30*time.Minute,
		Progress:   0.5,
		UpdatedAt:  at,
	}}
	repo := &monitoringStateRepoStub{loadErr: errors.New("must not be read")}
	bus := telemetry.NewBus(nil)
	bus.Publish(telemetry.TopicPower, sensor.PowerReading{VoltageV: 231, PowerW: 2900, At: at})
	fs := firingStatusStub{stats: firing.Stats{State: firing.CycleOn, Duty: 0.4, Cycles: 77}}

	got, err := NewMonitoringService(ctrl, repo, fs, bus).GetState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "RUNNING" || !got.IsRunning || got.SessionID != "s-9" {
		t.Fatalf("status fields: %+v", got)
	}
	if got.CurrentTempC != 640 || got.TargetTempC != 650 || got.Duty != 0.42 {
		t.Fatalf("loop fields: %+v", got)
	}
	if got.ThermocoupleC == nil || *got.ThermocoupleC != 638 {
		t.Fatalf("thermocouple = %v", got.ThermocoupleC)
	}
	if got.IRC != nil || got.IROffsetC != nil {
		t.Fatalf("IR fields must be empty without IR data")
	}
	if got.ElapsedSeconds != 19800 || got.RemainingSeconds != 19800 {
		t.Fatalf("elapsed=%d remaining=%d", got.ElapsedSeconds, got.RemainingSeconds)
	}
	if got.Firing == nil || got.Firing.Cycles != 77 || got.Firing.State != firing.CycleOn.String() {
		t.Fatalf("firing = %+v", got.Firing)
	}
	if got.Power == nil || got.Power.PowerW != 2900 {
		t.Fatalf("power = %+v", got.Power)
	}
}

func TestMonitoringService_GetState_NoSnapshotYetFallsBack(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	repo := &monitoringStateRepoStub{loadResp: models.KilnState{ID: 1, Status: "FAULT", ErrorCodes: []string{"SENSOR_FAULT"}}}
	got, err := NewMonitoringService(ctrl, repo, nil, nil).GetState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "FAULT" || len(got.ErrorCodes) != 1 {
		t.Fatalf("expected persisted state, got %+v", got)
	}
}

func TestStateFromSnapshot(t *testing.T) {
	t.Parallel()

	snap := supervisor.Snapshot{
		Status:       supervisor.StatusFault,
		SessionID:    "s-1",
		Fault:        supervisor.FaultSensor,
		Secondary:    812,
		HasSecondary: true,
		IROffset:     -4.5,
		Calibrated:   true,
		Stage:        schedule.StageNotStarted,
		UpdatedAt:    time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)),
	}
	st := StateFromSnapshot(snap)
	if !st.IsRunning {
		t.Errorf("a sensor fault ramp-down is still an active session")
	}
	if len(st.ErrorCodes) != 1 || st.ErrorCodes[0] != supervisor.FaultSensor {
		t.Errorf("error codes = %v", st.ErrorCodes)
	}
	if st.IRC == nil || *st.IRC != 812 || st.IROffsetC == nil || *st.IROffsetC != -4.5 {
		t.Errorf("IR fields = %v %v", st.IRC, st.IROffsetC)
	}
	if st.ThermocoupleC != nil {
		t.Errorf("thermocouple must be nil without a primary reading")
	}
	if st.UpdatedAt.Location() != time.UTC {
		t.Errorf("UpdatedAt not UTC: %v", st.UpdatedAt)
	}
}

func TestToUTC(t *testing.T) {
	t.Parallel()

	t.Run("zero time is preserved", func(t *testing.T) {
		t.Parallel()
		var z time.Time
		if got := toUTC(z); !got.IsZero() {
			t.Fatalf("expected zero time, got %v", got)
		}
	})

	t.Run("non-zero converted to UTC", func(t *testing.T) {
		t.Parallel()
		local := time.Date(2025, 2, 3, 10, 0, 0, 0, time.FixedZone("Z+2", 2*3600))
		got := toUTC(local)
		want := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
		if got.Location() != time.UTC {
			t.Fatalf("expected UTC location, got %v", got.Location())
		}
		if !got.Equal(want) {
			t.Fatalf("want %v, got %v", want, got)
		}
	})
}

// assertWithin checks that got is within dur of now.
func assertWithin(t *testing.T, got time.Time, dur time.Duration) {
	t.Helper()
	if got.IsZero() {
		t.Fatalf("time is zero")
	}
	diff := time.Since(got)
	if diff < 0 {
		diff = -diff
	}
	if diff > dur {
		t.Fatalf("time %v not within %v of now; diff=%v", got, dur, diff)
	}
}
