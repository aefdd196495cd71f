package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kiln_control/internal/models"
	"kiln_control/internal/repository"
	"kiln_control/internal/supervisor"
)

type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	errUnknownEventType = errors.New("unknown event type")
)

// eventTypes are the types the regulation loop emits.
var eventTypes = map[string]struct{}{
	supervisor.EventStart:          {},
	supervisor.EventStop:           {},
	supervisor.EventScheduleChange: {},
	supervisor.EventCalibrate:      {},
	supervisor.EventSensorError:    {},
	supervisor.EventSensorFault:    {},
	supervisor.EventRecovered:      {},
	supervisor.EventComplete:       {},
	supervisor.EventSafetyFault:    {},
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType accepts "sensor_fault", " Sensor-Fault " and "SENSOR_FAULT" alike.
func normalizeEventType(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
}

func checkRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, errInvalidTimeRange)
	}
	return nil
}

// normalizeAndValidateFilter prepares query parameters and validates the
// time range and event type.
func normalizeAndValidateFilter(f LogFilter) (repository.EventQuery, error) {
	q := repository.EventQuery{
		From:      normalizeToUTC(f.From),
		To:        normalizeToUTC(f.To),
		Type:      normalizeEventType(f.Type),
		SessionID: strings.TrimSpace(f.SessionID),
	}
	if err := checkRange(q.From, q.To); err != nil {
		return repository.EventQuery{}, err
	}
	if _, ok := eventTypes[q.Type]; q.Type != "" && !ok {
		return repository.EventQuery{}, fmt.Errorf("%w: %w %q", ErrInvalidInput, errUnknownEventType, f.Type)
	}
	return q, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.KilnEvent, error) {
	q, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, q)
}
