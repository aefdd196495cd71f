package service

import (
	"context"
	"time"

	"kiln_control/internal/logger"
	"kiln_control/internal/models"
	"kiln_control/internal/repository"
	"kiln_control/internal/supervisor"
	"kiln_control/internal/telemetry"

	"github.com/google/uuid"
)

const recorderEventQueue = 256

// RecorderConfig sets how often the state row and data log samples are written.
type RecorderConfig struct {
	StateInterval  time.Duration
	SampleInterval time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.StateInterval <= 0 {
		c.StateInterval = 5 * time.Second
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 30 * time.Second
	}
	return c
}

// RecorderService persists what the regulation loop publishes on the bus:
// every event, the state row and the firing data log.
type RecorderService struct {
	bus        *telemetry.Bus
	stateRepo  repository.StateRepo
	eventRepo  repository.EventRepo
	sampleRepo repository.SampleRepo
	cfg        RecorderConfig
	log        *logger.Logger

	lastStatus   supervisor.Status
	lastStateAt  time.Time
	lastSession  string
	lastSampleAt time.Time
}

func NewRecorderService(bus *telemetry.Bus, stateRepo repository.StateRepo, eventRepo repository.EventRepo,
	sampleRepo repository.SampleRepo, cfg RecorderConfig, log *logger.Logger) *RecorderService {
	return &RecorderService{
		bus:        bus,
		stateRepo:  stateRepo,
		eventRepo:  eventRepo,
		sampleRepo: sampleRepo,
		cfg:        cfg.withDefaults(),
		log:        logger.OrNop(log),
	}
}

// Run consumes the bus until ctx is cancelled. Queued events and the last
// state are flushed on the way out, so writes do not inherit the cancellation.
func (r *RecorderService) Run(ctx context.Context) {
	if r.bus == nil {
		<-ctx.Done()
		return
	}
	states, unsubState := r.bus.Subscribe(ctx, telemetry.TopicState, true)
	defer unsubState()
	events, unsubEvents := r.bus.SubscribeQueue(ctx, telemetry.TopicEvent, recorderEventQueue)
	defer unsubEvents()

	wctx := context.WithoutCancel(ctx)
	var (
		last     supervisor.Snapshot
		haveLast bool
	)
	for {
		select {
		case <-ctx.Done():
			r.drain(wctx, events)
			if haveLast {
				r.saveState(wctx, last)
			}
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.recordEvent(wctx, ev)
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			snap, isSnap := ev.(supervisor.Snapshot)
			if !isSnap {
				continue
			}
			last, haveLast = snap, true
			r.recordSnapshot(wctx, snap)
		}
	}
}

func (r *RecorderService) drain(ctx context.Context, events <-chan telemetry.Event) {
	if events == nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.recordEvent(ctx, ev)
		default:
			return
		}
	}
}

// EventModel converts a loop event into a log entry with a fresh id.
func EventModel(e supervisor.Event) models.KilnEvent {
	var meta any
	if len(e.Metadata) > 0 {
		meta = e.Metadata
	}
	return models.KilnEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  e.At.UTC(),
		Type:        e.Type,
		SessionID:   e.SessionID,
		Description: e.Description,
		Metadata:    meta,
	}
}

func (r *RecorderService) recordEvent(ctx context.Context, ev telemetry.Event) {
	e, ok := ev.(supervisor.Event)
	if !ok {
		return
	}
	if err := r.eventRepo.Append(ctx, EventModel(e)); err != nil {
		r.log.Errorw("recorder_event_failed", "type", e.Type, "err", err)
	}
}

// recordSnapshot saves the state row on status changes and every
// StateInterval, and a data log sample every SampleInterval while a session
// is active. Intervals are measured on snapshot time.
func (r *RecorderService) recordSnapshot(ctx context.Context, snap supervisor.Snapshot) {
	at := snap.UpdatedAt
	if snap.Status != r.lastStatus || r.lastStateAt.IsZero() || at.Sub(r.lastStateAt) >= r.cfg.StateInterval {
		r.saveState(ctx, snap)
	}

	if !snap.Active() {
		return
	}
	if snap.SessionID != r.lastSession || at.Sub(r.lastSampleAt) >= r.cfg.SampleInterval {
		s := models.Sample{
			SessionID: snap.SessionID,
			TakenAt:   at.UTC(),
			EstimateC: snap.Estimate,
			SetpointC: snap.Setpoint,
			Duty:      snap.Duty,
			Stage:     snap.Stage,
		}
		if snap.HasPrimary {
			v := snap.Primary
			s.ThermocoupleC = &v
		}
		if err := r.sampleRepo.Append(ctx, s); err != nil {
			r.log.Errorw("recorder_sample_failed", "session_id", snap.SessionID, "err", err)
			return
		}
		r.lastSession = snap.SessionID
		r.lastSampleAt = at
	}
}

func (r *RecorderService) saveState(ctx context.Context, snap supervisor.Snapshot) {
	if err := r.stateRepo.Save(ctx, StateFromSnapshot(snap)); err != nil {
		r.log.Errorw("recorder_state_failed", "status", snap.Status, "err", err)
		return
	}
	r.lastStatus = snap.Status
	r.lastStateAt = snap.UpdatedAt
}
