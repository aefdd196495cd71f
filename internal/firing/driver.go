package firing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/logger"
)

// driver holds what both engines share: the duty cell, the actuator with
// change detection, and lock-free counters for Stats.
type driver struct {
	act        Actuator
	clock      clock.Clock
	log        *logger.Logger
	staleAfter time.Duration

	cell DutyCell

	// touched only by the Run goroutine
	on    bool
	known bool

	state    atomic.Int32
	duty     atomic.Uint64 // float64 bits
	cycles   atomic.Uint64
	onTime   atomic.Int64
	elapsed  atomic.Int64
	stale    atomic.Bool
	lastSeq  atomic.Uint64
	lastErr  atomic.Pointer[string]
	observer func(on bool, at time.Time)
}

func (d *driver) init(act Actuator, clk clock.Clock, log *logger.Logger, staleAfter time.Duration) {
	if clk == nil {
		clk = clock.Real{}
	}
	d.act = act
	d.clock = clk
	d.log = logger.OrNop(log)
	d.staleAfter = staleAfter
}

// Publish stores a new duty for the next cycle boundary.
func (d *driver) Publish(duty float64) {
	d.cell.Store(duty, d.clock.Now())
}

func (d *driver) State() State { return State(d.state.Load()) }

func (d *driver) Stats() Stats {
	s := Stats{
		State:   d.State(),
		Duty:    math.Float64frombits(d.duty.Load()),
		Cycles:  d.cycles.Load(),
		OnTime:  time.Duration(d.onTime.Load()),
		Elapsed: time.Duration(d.elapsed.Load()),
		Stale:   d.stale.Load(),
		LastSeq: d.lastSeq.Load(),
	}
	if p := d.lastErr.Load(); p != nil {
		s.LastError = *p
	}
	return s
}

func (d *driver) setState(s State) { d.state.Store(int32(s)) }

// beginCycle records the command in force and whether it is stale.
func (d *driver) beginCycle(cmd Command, at time.Time) {
	d.duty.Store(math.Float64bits(cmd.Duty))
	d.lastSeq.Store(cmd.Seq)

	stale := d.staleAfter > 0 && cmd.Seq > 0 && at.Sub(cmd.IssuedAt) > d.staleAfter
	if stale && !d.stale.Load() {
		d.log.Warnw("firing_command_stale", "age", at.Sub(cmd.IssuedAt), "duty", cmd.Duty, "seq", cmd.Seq)
	}
	d.stale.Store(stale)
}

func (d *driver) endCycle(on, period time.Duration) {
	d.cycles.Add(1)
	d.onTime.Add(int64(on))
	d.elapsed.Add(int64(period))
}

// drive writes the actuator only when the state changes.
func (d *driver) drive(on bool) error {
	if d.known && d.on == on {
		return nil
	}
	if err := d.act.Set(on); err != nil {
		d.known = false
		return err
	}
	d.on, d.known = on, true
	if d.observer != nil {
		d.observer(on, d.clock.Now())
	}
	return nil
}

// shutdown forces the actuator OFF and returns to Idle.
func (d *driver) shutdown() error {
	defer d.setState(Idle)
	d.known = false
	if err := d.drive(false); err != nil {
		d.recordErr(err)
		d.log.Errorw("firing_off_failed", "err", err)
		return fmt.Errorf("%w: %v", ErrSafetyFault, err)
	}
	d.log.Infow("firing_stopped", "cycles", d.cycles.Load())
	return nil
}

// fail handles an actuator error: one attempt to force OFF, then stop.
func (d *driver) fail(cause error) error {
	d.recordErr(cause)
	d.log.Errorw("firing_actuator_fault", "err", cause)
	if err := d.shutdown(); err != nil {
		return errors.Join(err, fmt.Errorf("%w: %v", ErrActuator, cause))
	}
	return fmt.Errorf("%w: %v", ErrActuator, cause)
}

func (d *driver) recordErr(err error) {
	s := err.Error()
	d.lastErr.Store(&s)
}

// waitUntil sleeps on the engine clock until deadline; false means ctx ended first.
func (d *driver) waitUntil(ctx context.Context, deadline time.Time) bool {
	wait := deadline.Sub(d.clock.Now())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-d.clock.After(wait):
		return ctx.Err() == nil
	}
}
