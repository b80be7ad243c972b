package dmm

import (
	"fmt"
	"strconv"
)

// HPML command vocabulary of the HP 3457A. The instrument predates SCPI;
// commands are bare mnemonics, responses single lines on the same channel
// that carries measurement data.
const (
	cmdPreset     = "PRESET"
	cmdTrigHold   = "TRIG HOLD"
	cmdTrigAuto   = "TRIG AUTO"
	cmdTrigSingle = "TRIG SGL"
	cmdIdentity   = "ID?"
	cmdNPLCQuery  = "NPLC?"
	cmdLocal      = "LOCAL"
)

// RangeAuto selects instrument autoranging in ConfigureMeasurement.
const RangeAuto = "AUTO"

// NumericRange renders a fixed range value, e.g. NumericRange(30) for the
// 30V range in DCV mode.
func NumericRange(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func measurementCommand(mode Mode, rng string) string {
	if rng == "" {
		rng = RangeAuto
	}
	return fmt.Sprintf("%s %s", mode, rng)
}

func nplcCommand(cycles float64) string {
	return "NPLC " + strconv.FormatFloat(cycles, 'g', -1, 64)
}
