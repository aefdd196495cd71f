package firing

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/logger"
)

// ZeroCross is the phase-control variant: on every zero-cross edge it turns
// the actuator ON and holds it for duty*halfCycle before switching OFF,
// then re-arms on the next edge.
type ZeroCross struct {
	driver
	signal    ZeroCrossSignal
	halfCycle time.Duration
}

// NewZeroCross returns an idle zero-cross engine.
func NewZeroCross(act Actuator, signal ZeroCrossSignal, halfCycle, staleAfter time.Duration, clk clock.Clock, log *logger.Logger) (*ZeroCross, error) {
	if act == nil || signal == nil {
		return nil, errors.New("firing: actuator and zero-cross signal are required")
	}
	if halfCycle <= 0 {
		return nil, errors.New("firing: half cycle must be positive")
	}
	e := &ZeroCross{signal: signal, halfCycle: halfCycle}
	e.init(act, clk, log, staleAfter)
	return e, nil
}

// WithSwitchObserver registers fn to be called after every actuator transition.
func (e *ZeroCross) WithSwitchObserver(fn func(on bool, at time.Time)) *ZeroCross {
	e.observer = fn
	return e
}

// OnTime is the conduction time per half cycle for a duty fraction.
func (e *ZeroCross) OnTime(duty float64) time.Duration {
	return time.Duration(Clamp01(duty) * float64(e.halfCycle))
}

func (e *ZeroCross) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.log.Infow("firing_started", "mode", "zero_cross", "half_cycle", e.halfCycle)

	if err := e.drive(false); err != nil {
		return e.fail(err)
	}

	for {
		if ctx.Err() != nil {
			return e.shutdown()
		}

		edge, err := e.signal.WaitForEdge(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return e.shutdown()
			}
			if errors.Is(err, ErrNoEdge) {
				// no timing reference: hold OFF until edges return
				if derr := e.drive(false); derr != nil {
					return e.fail(derr)
				}
				e.setState(CycleOff)
				if !e.stale.Swap(true) {
					e.log.Warnw("firing_zero_cross_lost", "err", err)
				}
				continue
			}
			if serr := e.shutdown(); serr != nil {
				return serr
			}
			return fmt.Errorf("zero-cross signal: %w", err)
		}

		cmd := e.cell.Load()
		e.beginCycle(cmd, edge)
		on := e.OnTime(cmd.Duty)

		switch {
		case on <= 0:
			if err := e.drive(false); err != nil {
				return e.fail(err)
			}
			e.setState(CycleOff)
		case on >= e.halfCycle:
			if err := e.drive(true); err != nil {
				return e.fail(err)
			}
			e.setState(CycleOn)
		default:
			if err := e.drive(true); err != nil {
				return e.fail(err)
			}
			e.setState(CycleOn)
			if !e.waitUntil(ctx, edge.Add(on)) {
				return e.shutdown()
			}
			if err := e.drive(false); err != nil {
				return e.fail(err)
			}
			e.setState(CycleOff)
		}
		e.endCycle(on, e.halfCycle)
	}
}

// LineSignal synthesises zero-cross edges every half cycle on a clock. It
// stands in for the detector input when the kiln is simulated.
type LineSignal struct {
	clock     clock.Clock
	halfCycle time.Duration
	next      time.Time
}

// NewLineSignal returns edges at 1/(2*hz) intervals.
func NewLineSignal(hz float64, clk clock.Clock) *LineSignal {
	if clk == nil {
		clk = clock.Real{}
	}
	half := time.Duration(float64(time.Second) / (2 * hz))
	return &LineSignal{clock: clk, halfCycle: half}
}

// HalfCycle returns the interval between edges.
func (s *LineSignal) HalfCycle() time.Duration { return s.halfCycle }

func (s *LineSignal) WaitForEdge(ctx context.Context) (time.Time, error) {
	now := s.clock.Now()
	if s.next.IsZero() || now.Sub(s.next) >= s.halfCycle {
		s.next = now.Add(s.halfCycle)
	}
	edge := s.next
	if wait := edge.Sub(now); wait > 0 {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-s.clock.After(wait):
		}
	}
	s.next = edge.Add(s.halfCycle)
	return edge, nil
}
