package voltacq

import (
	"errors"
	"fmt"
)

// ErrInvalidTriggerFlag is returned when the camera-trigger flag is neither "yes" nor "no".
var ErrInvalidTriggerFlag = errors.New("camera trigger flag must be \"yes\" or \"no\"")

// DegenerateRangeError reports a voltage range of zero width, for which no scale exists.
type DegenerateRangeError struct {
	VoltageMin, VoltageMax float64
}

func (e *DegenerateRangeError) Error() string {
	return fmt.Sprintf("degenerate voltage range [%v, %v]: cannot compute scale", e.VoltageMin, e.VoltageMax)
}

// AlreadyRunningError is returned by Start when a session is not Idle.
type AlreadyRunningError struct {
	State RunState
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("acquisition session is %s, cannot start", e.State)
}

// ConfigError reports a bad or missing configuration field. Always fatal to a start attempt.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration field %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DeviceError reports a failure of the Sample Source or the Waveform Sink.
// Device errors are fatal to a running session and are never retried.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IOError reports a failure writing the persisted data file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
