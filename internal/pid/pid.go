package pid

import (
	"errors"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/logger"
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid pid parameters")

// Params holds the tunable part of a regulator.
type Params struct {
	Kp, Ki, Kd float64
	OutputMin  float64
	OutputMax  float64
}

// Validate rejects negative gains and an empty output range.
func (p Params) Validate() error {
	if p.Kp < 0 || p.Ki < 0 || p.Kd < 0 {
		return errors.Join(ErrInvalidParams, errors.New("gains must be non-negative"))
	}
	if p.OutputMax <= p.OutputMin {
		return errors.Join(ErrInvalidParams, errors.New("output_max must be greater than output_min"))
	}
	return nil
}

// Regulator is a discrete PID controller. dt is measured on its clock between
// consecutive Compute calls. The output is clamped to [OutputMin, OutputMax];
// the integral accumulator is not clamped on its own, so a long saturation
// keeps winding it up.
type Regulator struct {
	Kp, Ki, Kd float64
	OutputMin  float64
	OutputMax  float64

	setpoint  float64
	integral  float64
	prevError float64
	lastTime  time.Time

	clock clock.Clock
	log   *logger.Logger
}

// New returns a regulator with the given gains and an output range of [0, 1].
func New(kp, ki, kd float64) *Regulator {
	return &Regulator{
		Kp:        kp,
		Ki:        ki,
		Kd:        kd,
		OutputMin: 0,
		OutputMax: 1,
		clock:     clock.Real{},
		log:       logger.Nop(),
	}
}

// FromParams builds a regulator from validated parameters.
func FromParams(p Params) (*Regulator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return New(p.Kp, p.Ki, p.Kd).WithOutputLimits(p.OutputMin, p.OutputMax), nil
}

// WithOutputLimits sets the clamp applied to the output.
func (r *Regulator) WithOutputLimits(min, max float64) *Regulator {
	r.OutputMin = min
	r.OutputMax = max
	return r
}

// WithClock sets the clock dt is measured on. nil is ignored.
func (r *Regulator) WithClock(c clock.Clock) *Regulator {
	if c != nil {
		r.clock = c
	}
	return r
}

// WithLogger sets the logger; nil means no logging.
func (r *Regulator) WithLogger(l *logger.Logger) *Regulator {
	r.log = logger.OrNop(l)
	return r
}

// SetSetpoint changes the target; accumulated state is kept.
func (r *Regulator) SetSetpoint(v float64) { r.setpoint = v }

// Setpoint returns the current target.
func (r *Regulator) Setpoint() float64 { return r.setpoint }

// Integral returns the accumulated error·seconds.
func (r *Regulator) Integral() float64 { return r.integral }

// Reset clears the integral, the previous error and the sample time.
func (r *Regulator) Reset() {
	r.integral = 0
	r.prevError = 0
	r.lastTime = time.Time{}
}

// Compute returns the clamped controller output for process variable pv.
// The first call after New or Reset integrates nothing and has no derivative.
func (r *Regulator) Compute(pv float64) float64 {
	now := r.clock.Now()
	var dt float64
	if !r.lastTime.IsZero() {
		dt = now.Sub(r.lastTime).Seconds()
	}
	r.lastTime = now

	err := r.setpoint - pv

	var derivative float64
	if dt > 0 {
		r.integral += err * dt
		derivative = (err - r.prevError) / dt
	}
	r.prevError = err

	raw := r.Kp*err + r.Ki*r.integral + r.Kd*derivative
	out := clamp(raw, r.OutputMin, r.OutputMax)

	r.log.Debugw("pid_compute",
		"dt", dt, "setpoint", r.setpoint, "pv", pv, "err", err,
		"integral", r.integral, "derivative", derivative, "raw", raw, "out", out)
	return out
}

func clamp(v, min, max float64) float64 {
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}
