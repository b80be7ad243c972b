package dmm

import "strings"

// Mode selects the measurement function of the multimeter.
type Mode string

const (
	// ModeDCVolts measures DC voltage
	ModeDCVolts Mode = "DCV"
	// ModeACVolts measures AC voltage
	ModeACVolts Mode = "ACV"
	// ModeDCCurrent measures DC current
	ModeDCCurrent Mode = "DCI"
	// ModeACCurrent measures AC current
	ModeACCurrent Mode = "ACI"
	// ModeOhms2Wire measures resistance with two leads
	ModeOhms2Wire Mode = "OHM"
	// ModeOhms4Wire measures resistance with separate sense leads
	ModeOhms4Wire Mode = "OHMF"
	// ModeFrequency measures signal frequency
	ModeFrequency Mode = "FREQ"
	// ModePeriod measures signal period
	ModePeriod Mode = "PER"
)

var modes = []Mode{
	ModeDCVolts,
	ModeACVolts,
	ModeDCCurrent,
	ModeACCurrent,
	ModeOhms2Wire,
	ModeOhms4Wire,
	ModeFrequency,
	ModePeriod,
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode maps a case-insensitive mode string onto the HPML function
// mnemonic sent to the instrument.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range modes {
		if v == m {
			return m, nil
		}
	}
	return "", &InvalidModeError{Mode: s}
}

// ModeNames returns the accepted mode mnemonics in instrument order.
func ModeNames() []string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return names
}
