package schedule

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidSchedule is returned when a firing curve cannot be used to run a session.
var ErrInvalidSchedule = errors.New("invalid schedule")

// StageNotStarted is reported by StageAt before the first control point.
const StageNotStarted = "Not started"

// ControlPoint is one point of a firing curve.
type ControlPoint struct {
	At     time.Duration `json:"at"`     // offset from session start
	TempC  float64       `json:"temp_c"` // target temperature, °C
	Stage  string        `json:"stage"`
}

// Table is an immutable firing curve answering setpoint and stage queries
// for any elapsed time. Between points the setpoint is interpolated linearly;
// outside the curve it is clamped to the first or last point.
type Table struct {
	name   string
	points []ControlPoint
}

// New validates points and builds a table. Offsets must be non-negative and
// non-decreasing; two points sharing an offset form a step.
func New(name string, points []ControlPoint) (*Table, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: curve %q has no points", ErrInvalidSchedule, name)
	}
	for i, p := range points {
		if p.At < 0 {
			return nil, fmt.Errorf("%w: point %d has negative offset %s", ErrInvalidSchedule, i, p.At)
		}
		if math.IsNaN(p.TempC) || math.IsInf(p.TempC, 0) {
			return nil, fmt.Errorf("%w: point %d has non-finite temperature", ErrInvalidSchedule, i)
		}
		if i > 0 && p.At < points[i-1].At {
			return nil, fmt.Errorf("%w: point %d at %s is before point %d at %s",
				ErrInvalidSchedule, i, p.At, i-1, points[i-1].At)
		}
	}
	cp := make([]ControlPoint, len(points))
	copy(cp, points)
	return &Table{name: name, points: cp}, nil
}

// Name returns the curve name.
func (t *Table) Name() string { return t.name }

// Points returns a copy of the control points.
func (t *Table) Points() []ControlPoint {
	cp := make([]ControlPoint, len(t.points))
	copy(cp, t.points)
	return cp
}

// Duration is the offset of the last control point.
func (t *Table) Duration() time.Duration {
	return t.points[len(t.points)-1].At
}

// SetpointAt returns the target temperature at elapsed time at.
func (t *Table) SetpointAt(at time.Duration) float64 {
	first, last := t.points[0], t.points[len(t.points)-1]
	if at <= first.At {
		return first.TempC
	}
	if at >= last.At {
		return last.TempC
	}

	// first point at or after at; j >= 1 here
	j := sort.Search(len(t.points), func(k int) bool { return t.points[k].At >= at })
	b := t.points[j]
	if b.At == at {
		return b.TempC
	}
	a := t.points[j-1]
	span := b.At - a.At
	if span <= 0 {
		return a.TempC
	}
	frac := float64(at-a.At) / float64(span)
	return a.TempC + (b.TempC-a.TempC)*frac
}

// StageAt returns the label of the segment being traversed at elapsed time at.
func (t *Table) StageAt(at time.Duration) string {
	if at < t.points[0].At {
		return StageNotStarted
	}
	// last point with offset <= at
	j := sort.Search(len(t.points), func(k int) bool { return t.points[k].At > at })
	return t.points[j-1].Stage
}

// Remaining is the time left until the last control point, never negative.
func (t *Table) Remaining(at time.Duration) time.Duration {
	if rem := t.Duration() - at; rem > 0 {
		return rem
	}
	return 0
}

// Progress reports elapsed time as a fraction of the curve in [0,1].
func (t *Table) Progress(at time.Duration) float64 {
	total := t.Duration()
	if total <= 0 || at >= total {
		return 1
	}
	if at <= 0 {
		return 0
	}
	return float64(at) / float64(total)
}
