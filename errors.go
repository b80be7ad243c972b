package dmm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when the session is used before a
	// successful Initialize.
	ErrNotInitialized = errors.New("dmm: session not initialized")

	// ErrNotConnected is returned by every instrument operation other
	// than Connect/Disconnect while no connection is established.
	ErrNotConnected = errors.New("dmm: instrument not connected")

	// ErrClosed is returned when the underlying channel has been closed.
	ErrClosed = errors.New("dmm: channel closed")

	// ErrInvalidPortName is returned when the configured port is not
	// present on the system or does not look like a serial device.
	ErrInvalidPortName = errors.New("dmm: invalid or unavailable port name")
)

// InvalidModeError reports a measurement mode outside the instrument's
// fixed function set.
type InvalidModeError struct {
	Mode string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("dmm: unknown measurement mode %q, allowed: %s",
		e.Mode, strings.Join(ModeNames(), ", "))
}

// ProtocolError reports a response that could not be parsed as expected.
// With HPML this usually means the instrument answered with a measurement
// value instead of the requested setting, i.e. the trigger was not held.
type ProtocolError struct {
	Response string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("dmm: unparseable instrument response %q: %v", e.Response, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
