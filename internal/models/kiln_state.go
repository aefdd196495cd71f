package models

import "time"

// KilnState is the API view of the regulation loop, also persisted as the
// single kiln_state row.
type KilnState struct {
	ID               int           `json:"id"`
	Status           string        `json:"status"` // IDLE | RUNNING | COMPLETE | FAULT
	Curve            string        `json:"curve,omitempty"`
	SessionID        string        `json:"session_id,omitempty"`
	CurrentTempC     float64       `json:"current_temp_c"` // fused estimate, °C
	ThermocoupleC    *float64      `json:"thermocouple_c,omitempty"`
	IRC              *float64      `json:"ir_c,omitempty"`
	IROffsetC        *float64      `json:"ir_offset_c,omitempty"`
	TargetTempC      float64       `json:"target_temp_c"`
	Duty             float64       `json:"duty"` // 0..1
	Stage            string        `json:"stage,omitempty"`
	ElapsedSeconds   int           `json:"elapsed_seconds"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Progress         float64       `json:"progress"`              // 0..1
	ErrorCodes       []string      `json:"error_codes,omitempty"` // e.g. ["SENSOR_FAULT"]
	IsRunning        bool          `json:"is_running"`
	Firing           *FiringStatus `json:"firing,omitempty"`
	Power            *PowerStatus  `json:"power,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type FiringStatus struct {
	State  string  `json:"state"` // IDLE | CYCLE_ON | CYCLE_OFF
	Duty   float64 `json:"duty"`
	Cycles uint64  `json:"cycles"`
	Stale  bool    `json:"stale"`
}

type PowerStatus struct {
	VoltageV    float64   `json:"voltage_v"`
	CurrentA    float64   `json:"current_a"`
	PowerW      float64   `json:"power_w"`
	EnergyWh    float64   `json:"energy_wh"`
	PowerFactor float64   `json:"power_factor"`
	At          time.Time `json:"at"`
}
