package dmm

import "fmt"

// ValidateConfig validates session configuration parameters and fills in
// defaults for unset values.
func ValidateConfig(cfg *SessionConfig) error {
	// Validate port name
	if cfg.Serial.PortName == "" {
		return fmt.Errorf("port name cannot be empty")
	}

	// Validate baud rate
	validBaudRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}
	if !isValidBaudRate(cfg.Serial.BaudRate, validBaudRates) {
		return fmt.Errorf("invalid baud rate %d, must be one of: %v", cfg.Serial.BaudRate, validBaudRates)
	}

	// Validate data bits
	if cfg.Serial.DataBits == 0 {
		cfg.Serial.DataBits = 8
	}
	if cfg.Serial.DataBits < 5 || cfg.Serial.DataBits > 8 {
		return fmt.Errorf("data bits must be 5-8, got: %d", cfg.Serial.DataBits)
	}

	// Zero values for parity and stop bits are NoParity and OneStopBit.

	if cfg.Serial.LineDelimiter == 0 {
		cfg.Serial.LineDelimiter = '\n'
	}

	// Validate timeouts
	if cfg.Serial.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative: %v", cfg.Serial.ReadTimeout)
	}
	if cfg.Serial.WriteTimeout < 0 {
		return fmt.Errorf("write timeout cannot be negative: %v", cfg.Serial.WriteTimeout)
	}

	if cfg.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative: %v", cfg.SettleDelay)
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	if cfg.CommandTimeout < 0 {
		return fmt.Errorf("command timeout cannot be negative: %v", cfg.CommandTimeout)
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	// Validate metrics channel size
	if cfg.Serial.MetricsChannelSize < 0 {
		return fmt.Errorf("metrics channel size cannot be negative: %d", cfg.Serial.MetricsChannelSize)
	}
	if cfg.Serial.MetricsChannelSize > 10000 {
		return fmt.Errorf("metrics channel size too large (max 10000): %d", cfg.Serial.MetricsChannelSize)
	}

	return nil
}

func isValidBaudRate(rate int, valid []int) bool {
	for _, v := range valid {
		if rate == v {
			return true
		}
	}
	return false
}
