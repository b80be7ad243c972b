package dmm

import (
	"errors"
	"fmt"
)

// handleConnectError tears down a half-open channel and joins any error
// from closing with the original error. Caller holds the mutex.
func (s *Session) handleConnectError(err error) error {
	if e := s.closeWithoutLock(); e != nil {
		err = errors.Join(err, e)
	}
	if s.metrics != nil {
		s.metrics.ConnectionFailures.Add(1)
	}
	return err
}

// closeWithoutLock releases the channel without acquiring the mutex.
// This method assumes the mutex is already held by the caller.
func (s *Session) closeWithoutLock() error {
	l := s.link
	s.link = nil
	s.connected.Store(false)
	if l != nil {
		return l.Close()
	}
	return nil
}

// instrumentConfig pulls the serial settings for the configured bench
// instrument from the injected config service.
func (s *Session) instrumentConfig() (*SessionConfig, error) {
	required := s.ConfigService.RequiredConfigs()
	rigConfig, err := s.ConfigService.RigConfigByID(required.RigID)
	if err != nil {
		return nil, fmt.Errorf("instrumentConfig: config not found for instrument '%d': %v", required.RigID, err)
	}
	return &SessionConfig{Serial: rigConfig.SerialConfig}, nil
}
