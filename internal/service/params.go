package service

import "time"

// StartParams selects the curve for a new session. ResumeOffset skips the
// start of the curve, as when resuming after a power cut.
type StartParams struct {
	Curve        string
	ResumeOffset time.Duration
}

// LogFilter supports history filtering by time range, type and session.
type LogFilter struct {
	From      time.Time // inclusive; zero means no lower bound
	To        time.Time // inclusive; zero means no upper bound
	Type      string    // "", "START", "STOP", "SENSOR_FAULT", ...
	SessionID string
}

// SampleFilter selects data log rows. Limit <= 0 uses the default.
type SampleFilter struct {
	SessionID string
	From      time.Time
	To        time.Time
	Limit     int
}
