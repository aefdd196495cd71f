package supervisor

import "time"

// Status of the regulation loop as seen from outside.
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusFault    Status = "FAULT"
)

// Fault codes carried in Snapshot.Fault.
const (
	FaultSensor = "SENSOR_FAULT"
	FaultSafety = "SAFETY_FAULT"
)

// Event types emitted to the sink.
const (
	EventStart          = "START"
	EventStop           = "STOP"
	EventScheduleChange = "SCHEDULE_CHANGE"
	EventCalibrate      = "CALIBRATE"
	EventSensorError    = "SENSOR_ERROR"
	EventSensorFault    = "SENSOR_FAULT"
	EventRecovered      = "RECOVERED"
	EventComplete       = "COMPLETE"
	EventSafetyFault    = "SAFETY_FAULT"
)

// Event is something the loop wants recorded.
type Event struct {
	Type        string
	At          time.Time
	SessionID   string
	Description string
	Metadata    map[string]any
}

// Snapshot is an immutable copy of the loop state after a tick.
type Snapshot struct {
	Status    Status
	Curve     string
	SessionID string

	Estimate     float64
	Primary      float64
	HasPrimary   bool
	Secondary    float64
	HasSecondary bool
	IROffset     float64
	Calibrated   bool

	Setpoint  float64
	PIDOutput float64
	Duty      float64
	Stage     string

	Elapsed   time.Duration
	Remaining time.Duration
	Progress  float64

	SensorFailures int
	Fault          string
	UpdatedAt      time.Time
}

// Active reports whether a session is in progress (regulating or ramping
// down after a sensor fault).
func (s Snapshot) Active() bool {
	return s.SessionID != "" && (s.Status == StatusRunning || (s.Status == StatusFault && s.Fault == FaultSensor))
}

// Snapshot returns the state published by the last tick. Safe from any goroutine.
func (s *Supervisor) Snapshot() Snapshot { return *s.snap.Load() }

func (s *Supervisor) CurrentEstimate() float64   { return s.Snapshot().Estimate }
func (s *Supervisor) CurrentSetpoint() float64   { return s.Snapshot().Setpoint }
func (s *Supervisor) CurrentDuty() float64       { return s.Snapshot().Duty }
func (s *Supervisor) CurrentStageLabel() string  { return s.Snapshot().Stage }
func (s *Supervisor) ElapsedTime() time.Duration { return s.Snapshot().Elapsed }

// Fault returns the active fault code, or "" when healthy.
func (s *Supervisor) Fault() string { return s.Snapshot().Fault }
