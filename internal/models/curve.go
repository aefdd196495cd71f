package models

// CurvePoint is one control point of a firing curve as exchanged over the API.
type CurvePoint struct {
	Time         string  `json:"time" binding:"required"` // HH:MM or HH:MM:SS from session start
	TemperatureC float64 `json:"temperature_c"`
	Stage        string  `json:"stage"`
}

type Curve struct {
	Name     string       `json:"name"`
	Duration string       `json:"duration,omitempty"` // HH:MM:SS, read-only
	Points   []CurvePoint `json:"points" binding:"required,min=1,dive"`
}
