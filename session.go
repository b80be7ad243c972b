package dmm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Station-Manager/config"
	"github.com/Station-Manager/logging"
	"go.uber.org/atomic"
)

const ServiceName = "dmm"

// allow tests to substitute the link layer
var openLink = func(cfg *SessionConfig) (Link, error) { return OpenPort(cfg.Serial) }

// Session mediates all communication with one HP 3457A bench multimeter.
//
// The 3457A speaks HPML, not SCPI. Responses arrive as bare lines on the
// same channel that carries measurement readings, with no framing to tell
// them apart; which one a line is depends only on the instrument's trigger
// state. The session therefore forces TRIG HOLD before every configuration
// query or set. It keeps no shadow of the trigger state — re-asserting HOLD
// is idempotent and cheaper than being wrong.
//
// A Session owns its channel exclusively. The protocol is strictly
// sequential: one command, one optional response, then the next command.
// The internal mutex serializes round trips accordingly.
type Session struct {
	LoggerService *logging.Service `di.inject:"logger"`
	ConfigService *config.Service  `di.inject:"config"`
	Config        *SessionConfig

	initialized atomic.Bool
	connected   atomic.Bool

	link Link
	mu   sync.Mutex // serializes command/response round trips and guards link

	// Metrics
	metrics            *Metrics
	metricsEnabled     atomic.Bool
	metricsBroadcaster *MetricsBroadcaster

	// Initialization synchronization - ensures Initialize() is called only once
	initOnce sync.Once
	initErr  error
}

// NewSession builds a session from an explicit configuration, bypassing the
// injected config service.
func NewSession(cfg *SessionConfig) (*Session, error) {
	s := &Session{
		LoggerService: &logging.Service{},
		Config:        cfg,
	}
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Initialize() error {
	// Use sync.Once to ensure initialization happens only once, even with concurrent calls
	s.initOnce.Do(func() {
		s.initErr = s.doInitialize()
	})

	return s.initErr
}

// doInitialize performs the actual initialization logic
func (s *Session) doInitialize() (err error) {
	if s.initialized.Load() {
		return nil
	}

	defer func() {
		if err != nil {
			if s.metrics != nil {
				s.metrics.InitializationErrors.Add(1)
			}
		} else {
			s.initialized.Store(true)
		}
	}()

	// Initialize metrics first
	s.metrics = &Metrics{}
	s.metricsEnabled.Store(true) // Enable by default

	if s.LoggerService == nil {
		return errors.New("logger has not been set/injected")
	}

	if s.Config == nil {
		if s.ConfigService == nil {
			return errors.New("session config has not been set/injected")
		}
		cfg, cfgErr := s.instrumentConfig()
		if cfgErr != nil {
			s.metrics.ConfigurationErrors.Add(1)
			return fmt.Errorf("getting instrument config: %w", cfgErr)
		}
		s.Config = cfg
	}

	if err = ValidateConfig(s.Config); err != nil {
		s.metrics.ConfigurationErrors.Add(1)
		return fmt.Errorf("invalid session configuration: %w", err)
	}

	return nil
}

// Connected reports whether a Connect has succeeded and no Disconnect has
// followed it.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Connect opens the serial channel, resets the instrument with PRESET,
// waits the configured settle delay and forces TRIG HOLD so the instrument
// does not free-run and fill the channel before the first query.
//
// On any failure the channel is released and the session stays
// disconnected; the underlying transport error is wrapped and returned.
func (s *Session) Connect() error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	if s.metrics != nil {
		s.metrics.ConnectionAttempts.Add(1)
	}

	if s.connected.Load() {
		return nil
	}

	cfg := s.Config

	ok, listErr := isPortAvailable(cfg.Serial.PortName)
	if listErr != nil {
		if s.metrics != nil {
			s.metrics.ConnectionFailures.Add(1)
		}
		return fmt.Errorf("listing serial ports: %w", listErr)
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.PortValidationErrors.Add(1)
			s.metrics.ConnectionFailures.Add(1)
		}
		return ErrInvalidPortName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := openLink(cfg)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ConnectionFailures.Add(1)
		}
		return fmt.Errorf("connecting to %s: %w", cfg.Serial.PortName, err)
	}
	s.link = link

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()

	// PRESET drops the instrument into a defined state. The input stage
	// needs real time to settle before the next command is accepted.
	if err = s.send(ctx, cmdPreset); err != nil {
		return s.handleConnectError(fmt.Errorf("resetting instrument: %w", err))
	}
	time.Sleep(cfg.SettleDelay)

	if err = s.send(ctx, cmdTrigHold); err != nil {
		return s.handleConnectError(fmt.Errorf("holding trigger: %w", err))
	}

	s.connected.Store(true)
	if s.metrics != nil {
		s.metrics.SuccessfulConnects.Add(1)
		s.metrics.LastConnectTime.Store(time.Now().Unix())
		s.metrics.ConnectionStartTime.Store(time.Now().UnixNano())
		s.resetConsecutiveFailures()
	}

	s.logInfo("instrument connected", "port", cfg.Serial.PortName)
	return nil
}

// Disconnect returns the instrument to front-panel control and releases the
// channel. Failure to send LOCAL is swallowed: the point here is resource
// cleanup, not device state. Safe to call repeatedly and after a Connect
// that never succeeded.
func (s *Session) Disconnect() error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected.Store(false)

	if s.link == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.CommandTimeout)
	if err := s.link.WriteCommand(ctx, cmdLocal); err != nil {
		s.logWarn("returning instrument to local control failed", "error", err)
	}
	cancel()

	if s.metrics != nil {
		startTime := s.metrics.ConnectionStartTime.Load()
		if startTime > 0 {
			s.metrics.TotalUptime.Add(time.Now().UnixNano() - startTime)
			s.metrics.ConnectionStartTime.Store(0)
		}
		s.metrics.Disconnections.Add(1)
		s.metrics.LastDisconnectTime.Store(time.Now().Unix())
	}

	err := s.closeWithoutLock()
	s.logInfo("instrument disconnected")
	return err
}

// ReadIdentity queries the instrument identification with ID? (the 3457A
// predates *IDN?). Buffered acquisition data is discarded first so a stale
// reading cannot be mistaken for the identity string.
func (s *Session) ReadIdentity(ctx context.Context) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.link.Flush(); err != nil {
		return "", err
	}

	resp, err := s.exec(ctx, cmdIdentity)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// ConfigureMeasurement selects what the instrument measures. mode is
// matched case-insensitively against the HPML function set; rng is either
// RangeAuto (the default when empty) or a fixed range literal such as
// NumericRange(30).
func (s *Session) ConfigureMeasurement(ctx context.Context, mode string, rng string) error {
	if err := s.guard(); err != nil {
		return err
	}

	m, err := ParseMode(mode)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := measurementCommand(m, rng)
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	s.logDebug("measurement configured", "command", cmd)
	return nil
}

// SetIntegrationTime sets the A/D integration time in power line cycles.
// The trigger is held first: changing NPLC mid-acquisition races with the
// reading in flight.
func (s *Session) SetIntegrationTime(ctx context.Context, cycles float64) error {
	if err := s.guard(); err != nil {
		return err
	}
	if cycles < 0 {
		return fmt.Errorf("dmm: integration time cannot be negative: %v", cycles)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, cmdTrigHold); err != nil {
		return err
	}
	return s.send(ctx, nplcCommand(cycles))
}

// GetIntegrationTime reads back the configured power-line-cycle count. The
// trigger is held first: a free-running instrument would answer NPLC? with
// a measurement value instead of the setting.
func (s *Session) GetIntegrationTime(ctx context.Context) (float64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, cmdTrigHold); err != nil {
		return 0, err
	}

	resp, err := s.exec(ctx, cmdNPLCQuery)
	if err != nil {
		return 0, err
	}
	return s.parseFloat(resp)
}

// StartContinuous puts the instrument into free-run acquisition. From this
// point every line on the channel may be a reading; callers must not
// interleave configuration queries until StopAcquisition.
func (s *Session) StartContinuous(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, cmdTrigAuto); err != nil {
		return err
	}
	if s.metricsEnabled.Load() && s.metrics != nil {
		s.metrics.TriggersSent.Add(1)
	}
	return nil
}

// StopAcquisition holds the trigger, pausing acquisition. Idempotent.
func (s *Session) StopAcquisition(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.send(ctx, cmdTrigHold)
}

// ReadSingleValue triggers exactly one measurement and returns it. The
// single trigger leaves the 3457A idle again afterwards, so no HOLD is
// re-asserted here.
func (s *Session) ReadSingleValue(ctx context.Context) (float64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, cmdTrigSingle); err != nil {
		return 0, err
	}
	if s.metricsEnabled.Load() && s.metrics != nil {
		s.metrics.TriggersSent.Add(1)
	}

	start := time.Now()
	resp, err := s.link.ReadResponse(ctx)
	s.recordQuery(err, time.Since(start))
	if err != nil {
		return 0, err
	}

	v, err := s.parseFloat(resp)
	if err != nil {
		return 0, err
	}
	if s.metricsEnabled.Load() && s.metrics != nil {
		s.metrics.Readings.Add(1)
	}
	return v, nil
}

// guard rejects instrument operations on sessions that are not ready.
func (s *Session) guard() error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	if !s.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// send writes one command without expecting a response. Caller holds mu.
func (s *Session) send(ctx context.Context, cmd string) error {
	start := time.Now()
	err := s.link.WriteCommand(ctx, cmd)
	s.recordCommand(err, time.Since(start))
	return err
}

// exec performs one command/response round trip. Caller holds mu.
func (s *Session) exec(ctx context.Context, cmd string) (string, error) {
	start := time.Now()
	resp, err := s.link.Exec(ctx, cmd)
	s.recordQuery(err, time.Since(start))
	return resp, err
}

func (s *Session) parseFloat(resp string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		if s.metricsEnabled.Load() && s.metrics != nil {
			s.metrics.ParseErrors.Add(1)
		}
		return 0, &ProtocolError{Response: resp, Err: err}
	}
	return v, nil
}

func (s *Session) logDebug(msg string, kv ...interface{}) {
	if s.LoggerService != nil {
		s.LoggerService.Debug(msg, kv...)
	}
}

func (s *Session) logInfo(msg string, kv ...interface{}) {
	if s.LoggerService != nil {
		s.LoggerService.Info(msg, kv...)
	}
}

func (s *Session) logWarn(msg string, kv ...interface{}) {
	if s.LoggerService != nil {
		s.LoggerService.Warn(msg, kv...)
	}
}
