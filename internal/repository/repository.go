package repository

import (
	"context"
	"database/sql"
	"time"

	"kiln_control/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

type StateRepo interface {
	Save(ctx context.Context, s models.KilnState) error
	Load(ctx context.Context) (models.KilnState, error)
}

// EventQuery filters the event log. Zero values mean no bound.
type EventQuery struct {
	From      time.Time
	To        time.Time
	Type      string
	SessionID string
}

type EventRepo interface {
	Append(ctx context.Context, e models.KilnEvent) error
	List(ctx context.Context, q EventQuery) ([]models.KilnEvent, error)
}

// SampleQuery filters the firing data log. Limit <= 0 means no limit.
type SampleQuery struct {
	SessionID string
	From      time.Time
	To        time.Time
	Limit     int
}

type SampleRepo interface {
	Append(ctx context.Context, s models.Sample) error
	List(ctx context.Context, q SampleQuery) ([]models.Sample, error)
}

type Repository struct {
	StateRepo  StateRepo
	EventRepo  EventRepo
	SampleRepo SampleRepo
	Auth       Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		StateRepo:  NewStateSQLite(db),
		EventRepo:  NewEventSQLite(db),
		SampleRepo: NewSampleSQLite(db),
		Auth:       NewUserRepository(db),
	}
}
