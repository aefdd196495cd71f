package supervisor

import (
	"context"
	"fmt"
	"math"
	"time"

	"kiln_control/internal/firing"
	"kiln_control/internal/schedule"
)

// Tick runs one supervisory step at now: sample, apply queued commands,
// regulate, publish. Run calls it on every tick.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	readOK := s.sample(ctx, now)
	s.applyCommands(now)

	switch {
	case s.safety.Load() != nil:
		s.latchSafety(now)
	case !s.active:
		s.duty, s.pidOutput = 0, 0
	default:
		s.regulate(now, readOK)
	}

	s.out.Publish(s.duty)
	s.publishSnapshot(now)
}

// sample reads the sensors and updates the failure bookkeeping. It returns
// whether the primary reading succeeded.
func (s *Supervisor) sample(ctx context.Context, now time.Time) bool {
	v, err := s.read(ctx, s.sensor.ReadPrimary)
	if err != nil {
		s.failures++
		s.log.Warnw("supervisor_sensor_failure", "err", err, "consecutive", s.failures)
		if s.failures == 1 {
			s.emit(now, EventSensorError, "Thermocouple read failed", map[string]any{"error": err.Error()})
		}
		if s.failures == s.cfg.FailureThreshold {
			s.enterSensorFault(now, err)
		}
		return false
	}

	if s.fault == FaultSensor {
		s.fault = ""
		s.rampLeft = 0
		s.pid.Reset()
		s.log.Infow("supervisor_sensor_recovered", "after_failures", s.failures)
		s.emit(now, EventRecovered, "Sensor readings restored", map[string]any{"failures": s.failures})
	}
	s.failures = 0
	s.est.UpdatePrimary(v)
	s.lastEstimate = s.est.Estimate()
	s.hasEstimate = true

	if sec, ok := s.sensor.(SecondarySource); ok {
		if v, err := s.read(ctx, sec.ReadSecondary); err == nil {
			s.secondary, s.hasSecondary = v, true
		} else {
			s.log.Debugw("supervisor_secondary_unavailable", "err", err)
		}
	}
	return true
}

func (s *Supervisor) read(ctx context.Context, fn func(context.Context) (float64, error)) (float64, error) {
	if s.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ReadTimeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite reading %v", v)
	}
	return v, nil
}

func (s *Supervisor) enterSensorFault(now time.Time, cause error) {
	s.fault = FaultSensor
	s.rampFrom = s.duty
	s.rampLeft = s.cfg.RampCycles
	s.log.Errorw("supervisor_sensor_fault",
		"failures", s.failures,
		"ramp_from", s.rampFrom,
		"ramp_cycles", s.cfg.RampCycles,
		"err", cause,
	)
	s.emit(now, EventSensorFault, "Sensor failure threshold reached; ramping power down", map[string]any{
		"failures":  s.failures,
		"ramp_from": s.rampFrom,
		"error":     cause.Error(),
	})
}

func (s *Supervisor) applyCommands(now time.Time) {
	for {
		select {
		case c := <-s.cmds:
			s.apply(c, now)
		default:
			return
		}
	}
}

func (s *Supervisor) apply(c command, now time.Time) {
	switch c.kind {
	case cmdStart:
		s.pending.Add(-1)
		if s.safety.Load() != nil {
			s.log.Warnw("supervisor_start_refused", "reason", "safety fault latched")
			return
		}
		if s.active {
			s.log.Infow("supervisor_session_replaced", "session_id", s.sessionID)
		}
		s.table = c.table
		s.sessionID = c.sessionID
		s.sessionStart = now
		s.offset = c.offset
		s.active = true
		s.pid.Reset()
		s.log.Infow("supervisor_session_started",
			"session_id", s.sessionID,
			"curve", s.table.Name(),
			"resume_offset", c.offset,
		)
		s.emit(now, EventStart, "Firing started", map[string]any{
			"curve":          s.table.Name(),
			"resume_offset":  c.offset.String(),
			"duration_total": s.table.Duration().String(),
		})

	case cmdStop:
		if !s.active {
			return
		}
		elapsed := s.elapsedAt(now)
		s.emit(now, EventStop, "Firing stopped", map[string]any{"elapsed": elapsed.String()})
		s.log.Infow("supervisor_session_stopped", "session_id", s.sessionID, "elapsed", elapsed)
		s.endSession(StatusIdle)
		s.table = nil
		s.sessionID = ""

	case cmdCalibrate:
		primary, ok := s.est.Primary()
		if !ok {
			s.log.Warnw("supervisor_calibrate_skipped", "reason", "no thermocouple reading", "ir", c.value)
			return
		}
		s.est.Calibrate(c.value, primary)
		s.lastEstimate = s.est.Estimate()
		offset, _ := s.est.Offset()
		s.log.Infow("supervisor_calibrated", "ir", c.value, "primary", primary, "offset", offset)
		s.emit(now, EventCalibrate, "IR calibration applied", map[string]any{
			"ir_c":      c.value,
			"primary_c": primary,
			"offset_c":  offset,
		})

	case cmdSchedule:
		if !s.active {
			return
		}
		from := s.table.Name()
		s.table = c.table
		s.sessionStart = now
		s.offset = 0
		s.log.Infow("supervisor_schedule_replaced", "from", from, "to", s.table.Name())
		s.emit(now, EventScheduleChange, "Firing curve replaced", map[string]any{
			"from": from,
			"to":   s.table.Name(),
		})
	}
}

func (s *Supervisor) regulate(now time.Time, readOK bool) {
	elapsed := s.elapsedAt(now)

	if elapsed >= s.table.Duration() && s.cfg.EndPolicy == EndComplete {
		s.log.Infow("supervisor_session_complete", "session_id", s.sessionID, "elapsed", elapsed)
		s.emit(now, EventComplete, "Firing curve finished", map[string]any{"elapsed": elapsed.String()})
		s.endSession(StatusComplete)
		return
	}

	if s.fault == FaultSensor {
		if s.rampLeft > 0 {
			s.rampLeft--
		}
		s.duty = s.rampFrom * float64(s.rampLeft) / float64(s.cfg.RampCycles)
		s.pidOutput = 0
		return
	}
	if !s.hasEstimate {
		// nothing to regulate on yet
		s.duty, s.pidOutput = 0, 0
		return
	}
	if !readOK {
		s.log.Debugw("supervisor_reusing_estimate", "estimate", s.lastEstimate, "failures", s.failures)
	}

	s.pid.SetSetpoint(s.table.SetpointAt(elapsed))
	s.pidOutput = s.pid.Compute(s.lastEstimate)
	s.duty = firing.Clamp01(s.pidOutput / s.cfg.MaxPowerUnits)
	s.lastGoodDuty = s.duty
}

func (s *Supervisor) endSession(status Status) {
	s.active = false
	s.status = status
	s.duty, s.pidOutput = 0, 0
	s.rampLeft = 0
	s.pid.Reset()
}

func (s *Supervisor) latchSafety(now time.Time) {
	s.duty, s.pidOutput = 0, 0
	if s.fault == FaultSafety {
		return
	}
	msg := *s.safety.Load()
	s.emit(now, EventSafetyFault, "Actuator safety fault; session refused", map[string]any{"error": msg})
	s.active = false
	s.fault = FaultSafety
	s.status = StatusFault
}

func (s *Supervisor) elapsedAt(now time.Time) time.Duration {
	d := now.Sub(s.sessionStart) + s.offset
	if d < 0 {
		return 0
	}
	return d
}

func (s *Supervisor) currentStatus() Status {
	switch {
	case s.fault == FaultSafety:
		return StatusFault
	case s.active && s.fault == FaultSensor:
		return StatusFault
	case s.active:
		return StatusRunning
	}
	return s.status
}

func (s *Supervisor) publishSnapshot(now time.Time) {
	snap := &Snapshot{
		Status:         s.currentStatus(),
		SessionID:      s.sessionID,
		Estimate:       s.lastEstimate,
		Secondary:      s.secondary,
		HasSecondary:   s.hasSecondary,
		PIDOutput:      s.pidOutput,
		Duty:           s.duty,
		Stage:          schedule.StageNotStarted,
		SensorFailures: s.failures,
		Fault:          s.fault,
		UpdatedAt:      now,
	}
	snap.Primary, snap.HasPrimary = s.est.Primary()
	snap.IROffset, snap.Calibrated = s.est.Offset()

	if s.table != nil {
		elapsed := s.elapsedAt(now)
		if !s.active {
			elapsed = s.frozenElapsed(elapsed)
		}
		snap.Curve = s.table.Name()
		snap.Elapsed = elapsed
		snap.Setpoint = s.table.SetpointAt(elapsed)
		snap.Stage = s.table.StageAt(elapsed)
		snap.Remaining = s.table.Remaining(elapsed)
		snap.Progress = s.table.Progress(elapsed)
	}
	s.snap.Store(snap)

	if s.sink != nil {
		s.sink.PublishSnapshot(*snap)
	}
}

// frozenElapsed caps elapsed time at the end of the curve once a session has
// completed, so the snapshot keeps showing where it finished.
func (s *Supervisor) frozenElapsed(d time.Duration) time.Duration {
	if total := s.table.Duration(); d > total {
		return total
	}
	return d
}

func (s *Supervisor) emit(now time.Time, typ, desc string, meta map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.PublishEvent(Event{
		Type:        typ,
		At:          now.UTC(),
		SessionID:   s.sessionID,
		Description: desc,
		Metadata:    meta,
	})
}
