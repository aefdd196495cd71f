package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"kiln_control/internal/logger"
	"kiln_control/internal/schedule"
)

// Plausible range for a handheld IR thermometer reading, °C.
const (
	minIRC = -50.0
	maxIRC = 1800.0
)

type KilnService struct {
	ctrl         Controller
	curves       CurveStore
	defaultCurve string
	log          *logger.Logger
}

func NewKilnService(ctrl Controller, curves CurveStore, defaultCurve string, log *logger.Logger) *KilnService {
	return &KilnService{ctrl: ctrl, curves: curves, defaultCurve: defaultCurve, log: logger.OrNop(log)}
}

// Start queues a session on the named curve (the default curve when empty)
// and returns its session id.
func (s *KilnService) Start(ctx context.Context, p StartParams) (string, error) {
	name := strings.TrimSpace(p.Curve)
	if name == "" {
		name = s.defaultCurve
	}
	table, err := s.table(name)
	if err != nil {
		return "", err
	}
	if p.ResumeOffset < 0 {
		return "", fmt.Errorf("%w: resume offset must not be negative", ErrInvalidInput)
	}
	if p.ResumeOffset > table.Duration() {
		return "", fmt.Errorf("%w: resume offset %s is past the end of curve %q (%s)",
			ErrInvalidInput, p.ResumeOffset, name, table.Duration())
	}

	id, err := s.ctrl.Start(table, p.ResumeOffset)
	if err != nil {
		return "", err
	}
	s.log.Infow("kiln_start_queued", "session_id", id, "curve", name, "resume_offset", p.ResumeOffset)
	return id, nil
}

func (s *KilnService) Stop(ctx context.Context) error {
	if err := s.ctrl.Stop(); err != nil {
		return err
	}
	s.log.Infow("kiln_stop_queued")
	return nil
}

// CalibrateIR queues an IR calibration against the current thermocouple reading.
func (s *KilnService) CalibrateIR(ctx context.Context, irC float64) error {
	if math.IsNaN(irC) || irC < minIRC || irC > maxIRC {
		return fmt.Errorf("%w: ir reading %.1f outside %.0f..%.0f °C", ErrInvalidInput, irC, minIRC, maxIRC)
	}
	if err := s.ctrl.CalibrateIR(irC); err != nil {
		return err
	}
	s.log.Infow("kiln_calibrate_queued", "ir_c", irC)
	return nil
}

// SetSchedule swaps the curve of the running session.
func (s *KilnService) SetSchedule(ctx context.Context, curve string) error {
	name := strings.TrimSpace(curve)
	if name == "" {
		return fmt.Errorf("%w: curve is required", ErrInvalidInput)
	}
	table, err := s.table(name)
	if err != nil {
		return err
	}
	if err := s.ctrl.SetSchedule(table); err != nil {
		return err
	}
	s.log.Infow("kiln_schedule_queued", "curve", name)
	return nil
}

func (s *KilnService) table(name string) (*schedule.Table, error) {
	table, err := s.curves.Get(name)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidSchedule) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	return table, nil
}
