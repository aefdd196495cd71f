package firing

import (
	"context"
	"errors"
	"runtime"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/logger"
)

// TimeProportional fires the actuator ON for duty*period at the start of
// every fixed period. The duty read at a cycle boundary holds for the whole
// cycle; a new value takes effect at the next boundary.
type TimeProportional struct {
	driver
	period time.Duration
}

// NewTimeProportional returns an idle engine. staleAfter <= 0 disables the stale flag.
func NewTimeProportional(act Actuator, period, staleAfter time.Duration, clk clock.Clock, log *logger.Logger) (*TimeProportional, error) {
	if act == nil {
		return nil, errors.New("firing: actuator is required")
	}
	if period <= 0 {
		return nil, errors.New("firing: cycle period must be positive")
	}
	e := &TimeProportional{period: period}
	e.init(act, clk, log, staleAfter)
	return e, nil
}

// WithSwitchObserver registers fn to be called after every actuator transition.
func (e *TimeProportional) WithSwitchObserver(fn func(on bool, at time.Time)) *TimeProportional {
	e.observer = fn
	return e
}

// Period returns the cycle length.
func (e *TimeProportional) Period() time.Duration { return e.period }

func (e *TimeProportional) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.log.Infow("firing_started", "mode", "time_proportional", "period", e.period)

	// start from a known OFF state
	if err := e.drive(false); err != nil {
		return e.fail(err)
	}

	next := e.clock.Now()
	for {
		if ctx.Err() != nil {
			return e.shutdown()
		}

		start := next
		if now := e.clock.Now(); now.Sub(start) >= e.period {
			// fell behind by a whole cycle; restart the grid instead of bursting
			start = now
		}

		cmd := e.cell.Load()
		e.beginCycle(cmd, start)
		on := time.Duration(cmd.Duty * float64(e.period))

		if on > 0 {
			if err := e.drive(true); err != nil {
				return e.fail(err)
			}
			e.setState(CycleOn)
			if !e.waitUntil(ctx, start.Add(on)) {
				return e.shutdown()
			}
		}
		if on < e.period {
			if err := e.drive(false); err != nil {
				return e.fail(err)
			}
			e.setState(CycleOff)
			if !e.waitUntil(ctx, start.Add(e.period)) {
				return e.shutdown()
			}
		}

		e.endCycle(on, e.period)
		next = start.Add(e.period)
	}
}
