package sensor

import (
	"errors"
	"fmt"
)

// ErrSensor is matched by every read failure from this package.
var ErrSensor = errors.New("sensor read failed")

// ErrNoSecondary is returned by sources with no IR channel configured.
var ErrNoSecondary = errors.New("no secondary sensor configured")

// Fault codes.
const (
	CodeOpenCircuit = "OPEN_CIRCUIT"
	CodeShortGND    = "SHORT_GND"
	CodeShortVCC    = "SHORT_VCC"
	CodeTransport   = "TRANSPORT"
	CodeInjected    = "INJECTED"
)

// Error is a classified sensor failure.
type Error struct {
	Source string
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Code)
}

// Unwrap exposes both ErrSensor and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrSensor, e.Err}
	}
	return []error{ErrSensor}
}

func transportErr(source string, err error) error {
	return &Error{Source: source, Code: CodeTransport, Err: err}
}
