package models

import "time"

// KilnEvent is a single log entry.
type KilnEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"` // START | STOP | SCHEDULE_CHANGE | CALIBRATE | SENSOR_ERROR | SENSOR_FAULT | RECOVERED | COMPLETE | SAFETY_FAULT
	SessionID   string    `json:"session_id,omitempty"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
