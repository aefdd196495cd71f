package firing

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"
)

var (
	// ErrActuator wraps a failed actuator write. The engine stops; the session cannot continue.
	ErrActuator = errors.New("actuator write failed")
	// ErrSafetyFault means the actuator could not be confirmed OFF.
	ErrSafetyFault = errors.New("safety fault: actuator could not be switched off")
	// ErrNoEdge is returned by a ZeroCrossSignal that saw no edge within its timeout.
	ErrNoEdge = errors.New("no zero-cross edge")
)

// Actuator switches the heating element.
type Actuator interface {
	Set(on bool) error
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(on bool) error

func (f ActuatorFunc) Set(on bool) error { return f(on) }

// ZeroCrossSignal blocks until the next zero crossing of the mains waveform.
type ZeroCrossSignal interface {
	WaitForEdge(ctx context.Context) (time.Time, error)
}

// State of the firing loop.
type State int32

const (
	Idle State = iota
	CycleOn
	CycleOff
)

func (s State) String() string {
	switch s {
	case CycleOn:
		return "CYCLE_ON"
	case CycleOff:
		return "CYCLE_OFF"
	default:
		return "IDLE"
	}
}

// Command is one published duty value. Seq increases with every publish.
type Command struct {
	Duty     float64
	Seq      uint64
	IssuedAt time.Time
}

// DutyCell is the single shared value between the regulation loop (writer)
// and the firing loop (reader). Loads and stores never block.
type DutyCell struct {
	cur atomic.Pointer[Command]
	seq atomic.Uint64
}

// Store publishes duty, clamped to [0,1]; NaN is treated as 0.
func (c *DutyCell) Store(duty float64, at time.Time) {
	c.cur.Store(&Command{
		Duty:     Clamp01(duty),
		Seq:      c.seq.Add(1),
		IssuedAt: at,
	})
}

// Load returns the latest command, or a zero command if nothing was published.
func (c *DutyCell) Load() Command {
	if p := c.cur.Load(); p != nil {
		return *p
	}
	return Command{}
}

// Stats is a read-only view of the firing loop for telemetry.
type Stats struct {
	State     State
	Duty      float64       // duty in force for the current cycle
	Cycles    uint64        // completed cycles
	OnTime    time.Duration // total time commanded ON
	Elapsed   time.Duration // total time of completed cycles
	Stale     bool          // last command older than the stale threshold
	LastSeq   uint64
	LastError string
}

// Engine drives the actuator from the latest published duty. Run blocks until
// ctx is cancelled or the actuator fails, and always leaves the actuator OFF
// (or returns ErrSafetyFault if it could not).
type Engine interface {
	Run(ctx context.Context) error
	Publish(duty float64)
	State() State
	Stats() Stats
}

// Clamp01 limits v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	return v
}
