package service

import (
	"context"
	"errors"
	"time"

	"kiln_control/internal/firing"
	"kiln_control/internal/logger"
	"kiln_control/internal/models"
	"kiln_control/internal/repository"
	"kiln_control/internal/schedule"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"
)

var (
	// ErrInvalidInput marks caller mistakes; handlers map it to 400.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCurveNotFound is returned for unknown curve names.
	ErrCurveNotFound = schedule.ErrCurveNotFound
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Kiln exposes the firing commands. Commands are queued on the regulation
// loop and take effect on its next tick.
type Kiln interface {
	Start(ctx context.Context, p StartParams) (string, error)
	Stop(ctx context.Context) error
	CalibrateIR(ctx context.Context, irC float64) error
	SetSchedule(ctx context.Context, curve string) error
}

// Monitoring exposes read-only state (temperature, setpoint, duty, faults).
type Monitoring interface {
	GetState(ctx context.Context) (models.KilnState, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.KilnEvent, error)
}

type Curves interface {
	ListCurves(ctx context.Context) ([]string, error)
	GetCurve(ctx context.Context, name string) (models.Curve, error)
	SaveCurve(ctx context.Context, c models.Curve) (models.Curve, error)
}

type Samples interface {
	ListSamples(ctx context.Context, f SampleFilter) ([]models.Sample, error)
}

// Recorder persists loop output until ctx is cancelled.
type Recorder interface {
	Run(ctx context.Context)
}

// Controller is the command side of the regulation loop.
// *supervisor.Supervisor satisfies it.
type Controller interface {
	Start(table *schedule.Table, resumeOffset time.Duration) (string, error)
	Stop() error
	CalibrateIR(irC float64) error
	SetSchedule(table *schedule.Table) error
	Snapshot() supervisor.Snapshot
}

// CurveStore is the firing curve library. *schedule.Library satisfies it.
type CurveStore interface {
	Names() ([]string, error)
	Get(name string) (*schedule.Table, error)
	Save(t *schedule.Table) error
}

// FiringStatus reports the firing engine. firing.Engine satisfies it.
type FiringStatus interface {
	Stats() firing.Stats
}

type Service struct {
	Kiln
	Monitoring
	EventLog
	Curves
	Samples
	Recorder
	Authorization
}

// Deps carries the runtime pieces the services are built from.
type Deps struct {
	Repos        *repository.Repository
	Controller   Controller
	Curves       CurveStore
	Firing       FiringStatus
	Bus          *telemetry.Bus
	DefaultCurve string
	Auth         AuthConfig
	Recording    RecorderConfig
	Log          *logger.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		Kiln:          NewKilnService(d.Controller, d.Curves, d.DefaultCurve, d.Log),
		Monitoring:    NewMonitoringService(d.Controller, d.Repos.StateRepo, d.Firing, d.Bus),
		EventLog:      NewEventLogService(d.Repos.EventRepo),
		Curves:        NewCurveService(d.Curves),
		Samples:       NewSampleService(d.Repos.SampleRepo),
		Recorder:      NewRecorderService(d.Bus, d.Repos.StateRepo, d.Repos.EventRepo, d.Repos.SampleRepo, d.Recording, d.Log),
		Authorization: NewAuthService(d.Repos.Auth, d.Auth),
	}
}
