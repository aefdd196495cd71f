package estimator

// Estimator fuses the thermocouple reading with a one-time IR correction.
// The offset is only ever changed by Calibrate or Reset; it is not re-derived
// from later readings. Not safe for concurrent use: the regulation loop owns it.
type Estimator struct {
	primary    float64
	hasPrimary bool

	offset    float64
	hasOffset bool
}

// New returns an estimator with no reading and no calibration.
func New() *Estimator { return &Estimator{} }

// UpdatePrimary records the latest valid thermocouple reading.
func (e *Estimator) UpdatePrimary(tempC float64) {
	e.primary = tempC
	e.hasPrimary = true
}

// Calibrate sets offset = ir - primary, taken against a reference IR reading.
func (e *Estimator) Calibrate(irC, primaryC float64) {
	e.offset = irC - primaryC
	e.hasOffset = true
}

// Reset drops the calibration offset.
func (e *Estimator) Reset() {
	e.offset = 0
	e.hasOffset = false
}

// Estimate returns primary+offset when calibrated, the raw primary otherwise.
func (e *Estimator) Estimate() float64 {
	if e.hasOffset {
		return e.primary + e.offset
	}
	return e.primary
}

// Primary returns the last thermocouple reading and whether one was recorded.
func (e *Estimator) Primary() (float64, bool) { return e.primary, e.hasPrimary }

// Offset returns the calibration offset and whether one is set.
func (e *Estimator) Offset() (float64, bool) { return e.offset, e.hasOffset }
