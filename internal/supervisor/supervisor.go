package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"kiln_control/internal/clock"
	"kiln_control/internal/estimator"
	"kiln_control/internal/logger"
	"kiln_control/internal/pid"
	"kiln_control/internal/schedule"

	"github.com/google/uuid"
)

var (
	// ErrNoSession is returned by commands that need a running firing session.
	ErrNoSession = errors.New("no firing session in progress")
	// ErrBusy means the command queue is full; the caller may retry.
	ErrBusy = errors.New("supervisor busy: command queue full")
	// ErrSafetyLatched refuses new sessions after an actuator safety fault.
	ErrSafetyLatched = errors.New("safety fault latched: restart required")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid regulation config")
)

// SensorSource supplies the primary (thermocouple) temperature.
type SensorSource interface {
	ReadPrimary(ctx context.Context) (float64, error)
}

// SecondarySource is implemented by sources that also expose an IR reading.
type SecondarySource interface {
	ReadSecondary(ctx context.Context) (float64, error)
}

// DutyPublisher receives the duty fraction. firing.Engine satisfies it.
type DutyPublisher interface {
	Publish(duty float64)
}

// Sink receives snapshots and events. Calls are made from the regulation
// loop and must not block.
type Sink interface {
	PublishSnapshot(Snapshot)
	PublishEvent(Event)
}

// EndPolicy decides what happens once elapsed time passes the last point.
type EndPolicy string

const (
	// EndHold keeps regulating at the last setpoint.
	EndHold EndPolicy = "hold"
	// EndComplete ends the session with duty 0.
	EndComplete EndPolicy = "complete"
)

// Config of the regulation loop.
type Config struct {
	Tick             time.Duration
	MaxPowerUnits    float64
	FailureThreshold int
	RampCycles       int
	EndPolicy        EndPolicy
	ReadTimeout      time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Tick:             time.Second,
		MaxPowerUnits:    500,
		FailureThreshold: 3,
		RampCycles:       5,
		EndPolicy:        EndComplete,
		ReadTimeout:      500 * time.Millisecond,
	}
}

// Validate reports every invalid setting at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, errors.New("tick must be positive"))
	}
	if !(c.MaxPowerUnits > 0) || math.IsInf(c.MaxPowerUnits, 0) {
		errs = append(errs, errors.New("max_power_units must be a positive number"))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("sensor_failure_threshold must be at least 1"))
	}
	if c.RampCycles < 1 {
		errs = append(errs, errors.New("fail_safe_ramp_cycles must be at least 1"))
	}
	if c.EndPolicy != EndHold && c.EndPolicy != EndComplete {
		errs = append(errs, fmt.Errorf("end_policy %q must be hold or complete", c.EndPolicy))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, errors.New("read_timeout must not be negative"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

const commandQueueSize = 16

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdCalibrate
	cmdSchedule
)

type command struct {
	kind      commandKind
	table     *schedule.Table
	offset    time.Duration
	sessionID string
	value     float64
}

// Supervisor runs the sampling loop: read sensors, fuse, look up the
// setpoint, compute PID and publish the duty. All regulation state is owned
// by the loop goroutine; other goroutines talk to it through the command
// queue and read it through snapshots.
type Supervisor struct {
	cfg    Config
	sensor SensorSource
	est    *estimator.Estimator
	pid    *pid.Regulator
	out    DutyPublisher
	clock  clock.Clock
	log    *logger.Logger
	sink   Sink

	cmds   chan command
	snap   atomic.Pointer[Snapshot]
	safety atomic.Pointer[string]

	// starts queued but not yet applied by the loop
	pending atomic.Int32

	// loop-owned
	table        *schedule.Table
	sessionID    string
	sessionStart time.Time
	offset       time.Duration
	active       bool
	status       Status
	fault        string

	failures     int
	hasEstimate  bool
	lastEstimate float64
	secondary    float64
	hasSecondary bool
	pidOutput    float64
	duty         float64
	lastGoodDuty float64
	rampFrom     float64
	rampLeft     int
}

// New wires a supervisor. The PID regulator and estimator become owned by it.
func New(cfg Config, src SensorSource, est *estimator.Estimator, reg *pid.Regulator, out DutyPublisher) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || reg == nil || out == nil {
		return nil, errors.New("supervisor: sensor, regulator and duty publisher are required")
	}
	if est == nil {
		est = estimator.New()
	}
	s := &Supervisor{
		cfg:    cfg,
		sensor: src,
		est:    est,
		pid:    reg,
		out:    out,
		clock:  clock.Real{},
		log:    logger.Nop(),
		cmds:   make(chan command, commandQueueSize),
		status: StatusIdle,
	}
	s.snap.Store(&Snapshot{Status: StatusIdle, Stage: schedule.StageNotStarted})
	return s, nil
}

// WithClock replaces the wall clock used for ticks and elapsed time.
func (s *Supervisor) WithClock(c clock.Clock) *Supervisor {
	if c != nil {
		s.clock = c
	}
	return s
}

// WithLogger sets the logger; nil means no logging.
func (s *Supervisor) WithLogger(l *logger.Logger) *Supervisor {
	s.log = logger.OrNop(l)
	return s
}

// WithSink sets where snapshots and events go.
func (s *Supervisor) WithSink(sink Sink) *Supervisor {
	s.sink = sink
	return s
}

// Config returns the loop settings.
func (s *Supervisor) Config() Config { return s.cfg }

// Start queues a new session on table. resumeOffset is added to elapsed time
// so a session can resume mid-profile. The returned id names the session.
func (s *Supervisor) Start(table *schedule.Table, resumeOffset time.Duration) (string, error) {
	if table == nil {
		return "", fmt.Errorf("%w: no schedule", schedule.ErrInvalidSchedule)
	}
	if resumeOffset < 0 {
		return "", errors.New("resume offset must not be negative")
	}
	if s.safety.Load() != nil {
		return "", ErrSafetyLatched
	}
	id := uuid.NewString()
	s.pending.Add(1)
	if err := s.enqueue(command{kind: cmdStart, table: table, offset: resumeOffset, sessionID: id}); err != nil {
		s.pending.Add(-1)
		return "", err
	}
	return id, nil
}

// hasSession is true while a session runs or a Start is still queued.
func (s *Supervisor) hasSession() bool {
	return s.pending.Load() > 0 || s.Snapshot().Active()
}

// Stop queues the end of the current session, including one whose Start has
// not been applied yet.
func (s *Supervisor) Stop() error {
	if !s.hasSession() {
		return ErrNoSession
	}
	return s.enqueue(command{kind: cmdStop})
}

// CalibrateIR queues a calibration against a reference IR reading. The
// offset is taken at the next tick against the latest thermocouple reading.
func (s *Supervisor) CalibrateIR(irC float64) error {
	if math.IsNaN(irC) || math.IsInf(irC, 0) {
		return errors.New("ir reading must be a finite number")
	}
	return s.enqueue(command{kind: cmdCalibrate, value: irC})
}

// SetSchedule queues a replacement schedule for the running session.
// Elapsed time restarts from zero when it is applied.
func (s *Supervisor) SetSchedule(table *schedule.Table) error {
	if table == nil {
		return fmt.Errorf("%w: no schedule", schedule.ErrInvalidSchedule)
	}
	if !s.hasSession() {
		return ErrNoSession
	}
	return s.enqueue(command{kind: cmdSchedule, table: table})
}

// Escalate latches a safety fault raised outside the loop (the firing
// engine). Duty drops to 0 immediately and no session can start until restart.
func (s *Supervisor) Escalate(cause error) {
	msg := "actuator safety fault"
	if cause != nil {
		msg = cause.Error()
	}
	if s.safety.CompareAndSwap(nil, &msg) {
		s.out.Publish(0)
		s.log.Errorw("supervisor_safety_fault", "err", msg)
	}
}

func (s *Supervisor) enqueue(c command) error {
	select {
	case s.cmds <- c:
		return nil
	default:
		return ErrBusy
	}
}

// Run ticks at cfg.Tick until ctx is cancelled, then publishes duty 0.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Infow("supervisor_started", "tick", s.cfg.Tick, "end_policy", s.cfg.EndPolicy)
	defer func() {
		s.out.Publish(0)
		s.log.Infow("supervisor_stopped")
	}()

	next := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		s.Tick(ctx, s.clock.Now())

		next = next.Add(s.cfg.Tick)
		now := s.clock.Now()
		if now.After(next) {
			// a slow sensor read overran the tick; skip the missed ones
			next = now
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(now)):
		}
	}
}
