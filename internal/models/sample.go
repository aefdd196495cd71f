package models

import "time"

// Sample is one row of the firing data log.
type Sample struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	TakenAt       time.Time `json:"taken_at"`
	ThermocoupleC *float64  `json:"thermocouple_c,omitempty"`
	EstimateC     float64   `json:"estimate_c"`
	SetpointC     float64   `json:"setpoint_c"`
	Duty          float64   `json:"duty"`
	Stage         string    `json:"stage"`
}
