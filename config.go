package dmm

import (
	"time"

	"github.com/Station-Manager/types"
)

const (
	// DefaultSettleDelay is the pause after PRESET before the instrument
	// accepts further commands. Tied to the physical settling time of the
	// input stage, not to any protocol state.
	DefaultSettleDelay = time.Second

	// DefaultCommandTimeout bounds a single command/response round trip.
	DefaultCommandTimeout = 5 * time.Second
)

// SessionConfig holds everything needed to reach and drive one instrument.
type SessionConfig struct {
	// Serial carries the port settings. LineDelimiter defaults to '\n',
	// which is what the 3457A terminates its responses with.
	Serial types.SerialConfig

	// SettleDelay is the wait after the reset command during Connect.
	SettleDelay time.Duration

	// CommandTimeout is the per-round-trip budget applied to commands
	// issued without an explicit context deadline.
	CommandTimeout time.Duration
}
