package dmm

import (
	"time"

	serial "go.bug.st/serial"
)

// SerialPort abstracts the subset of go.bug.st/serial.Port used by this package.
type SerialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

// bugstPort wraps the concrete serial.Port to satisfy SerialPort.
type bugstPort struct {
	serial.Port
}

// allow tests to override external dependencies
var (
	openSerialPort = func(name string, mode *serial.Mode) (serial.Port, error) { return serial.Open(name, mode) }
	getPortsList   = serial.GetPortsList
)
