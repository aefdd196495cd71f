package service

import (
	"context"
	"time"

	"kiln_control/internal/models"
	"kiln_control/internal/repository"
	"kiln_control/internal/schedule"
	"kiln_control/internal/sensor"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"
)

const defaultAmbientTempC = 25.0

type MonitoringService struct {
	ctrl      Controller
	stateRepo repository.StateRepo
	firing    FiringStatus
	bus       *telemetry.Bus
	now       func() time.Time
}

// NewMonitoringService builds the state view. Any of ctrl, firing and bus may
// be nil; the persisted row is used when there is no live loop.
func NewMonitoringService(ctrl Controller, stateRepo repository.StateRepo, fs FiringStatus, bus *telemetry.Bus) *MonitoringService {
	return &MonitoringService{ctrl: ctrl, stateRepo: stateRepo, firing: fs, bus: bus, now: time.Now}
}

// GetState returns the live loop state. Before the loop has produced its
// first snapshot it falls back to the persisted row, then to an IDLE baseline.
func (s *MonitoringService) GetState(ctx context.Context) (models.KilnState, error) {
	if s.ctrl != nil {
		if snap := s.ctrl.Snapshot(); !snap.UpdatedAt.IsZero() {
			st := StateFromSnapshot(snap)
			s.decorate(&st)
			return st, nil
		}
	}

	state, err := s.stateRepo.Load(ctx)
	if err != nil {
		return models.KilnState{}, err
	}
	if state.ID == 0 {
		state = s.baselineState()
	}
	state.UpdatedAt = toUTC(state.UpdatedAt)
	s.decorate(&state)
	return state, nil
}

func (s *MonitoringService) decorate(st *models.KilnState) {
	if s.firing != nil {
		fs := s.firing.Stats()
		st.Firing = &models.FiringStatus{
			State:  fs.State.String(),
			Duty:   fs.Duty,
			Cycles: fs.Cycles,
			Stale:  fs.Stale,
		}
	}
	if s.bus != nil {
		if ev, ok := s.bus.Last(telemetry.TopicPower); ok {
			if r, ok := ev.(sensor.PowerReading); ok {
				st.Power = &models.PowerStatus{
					VoltageV:    r.VoltageV,
					CurrentA:    r.CurrentA,
					PowerW:      r.PowerW,
					EnergyWh:    r.EnergyWh,
					PowerFactor: r.PowerFactor,
					At:          toUTC(r.At),
				}
			}
		}
	}
}

// baselineState returns a sensible default snapshot for an uninitialized DB.
func (s *MonitoringService) baselineState() models.KilnState {
	return models.KilnState{
		ID:           1, // DB schema enforces single-row state with id=1
		Status:       string(supervisor.StatusIdle),
		CurrentTempC: defaultAmbientTempC,
		Stage:        schedule.StageNotStarted,
		UpdatedAt:    s.now().UTC(),
	}
}

// StateFromSnapshot converts a loop snapshot into the persisted/API shape.
func StateFromSnapshot(snap supervisor.Snapshot) models.KilnState {
	st := models.KilnState{
		ID:               1,
		Status:           string(snap.Status),
		Curve:            snap.Curve,
		SessionID:        snap.SessionID,
		CurrentTempC:     snap.Estimate,
		TargetTempC:      snap.Setpoint,
		Duty:             snap.Duty,
		Stage:            snap.Stage,
		ElapsedSeconds:   int(snap.Elapsed / time.Second),
		RemainingSeconds: int(snap.Remaining / time.Second),
		Progress:         snap.Progress,
		IsRunning:        snap.Active(),
		UpdatedAt:        toUTC(snap.UpdatedAt),
	}
	if snap.HasPrimary {
		v := snap.Primary
		st.ThermocoupleC = &v
	}
	if snap.HasSecondary {
		v := snap.Secondary
		st.IRC = &v
	}
	if snap.Calibrated {
		v := snap.IROffset
		st.IROffsetC = &v
	}
	if snap.Fault != "" {
		st.ErrorCodes = []string{snap.Fault}
	}
	return st
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
