package dmm

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks instrument communication health statistics.
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total connection attempts
	SuccessfulConnects  atomic.Int64 // Successful connections
	ConnectionFailures  atomic.Int64 // Failed connections
	Disconnections      atomic.Int64 // Total disconnects
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	LastDisconnectTime  atomic.Int64 // Unix timestamp of last disconnect
	TotalUptime         atomic.Int64 // Total connected time in nanoseconds
	ConnectionStartTime atomic.Int64 // When current connection started

	// Command round trips
	CommandsSent     atomic.Int64 // Write-only commands attempted
	CommandErrors    atomic.Int64 // Write-only command failures
	QueriesSent      atomic.Int64 // Command/response round trips attempted
	QueryErrors      atomic.Int64 // Round-trip failures
	TriggersSent     atomic.Int64 // TRIG AUTO / TRIG SGL commands issued
	Readings         atomic.Int64 // Successfully parsed measurement values
	TotalCommandTime atomic.Int64 // Total time spent in round trips (ns)
	MaxCommandTime   atomic.Int64 // Slowest round trip (ns)
	LastCommandTime  atomic.Int64 // Timestamp of last command

	// Error Categories
	InitializationErrors atomic.Int64 // Session init failures
	ConfigurationErrors  atomic.Int64 // Config-related errors
	PortValidationErrors atomic.Int64 // Invalid port errors
	ParseErrors          atomic.Int64 // Unparseable instrument responses
	TimeoutErrors        atomic.Int64 // All timeout errors

	// Health Indicators
	ConsecutiveFailures atomic.Int64 // Consecutive operation failures
	LastErrorTime       atomic.Int64 // Timestamp of last error
	ErrorRate           atomic.Int64 // Errors per thousand operations
}

// HealthStatus represents the overall health of instrument communication.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time view of session health for consumers.
type MetricsSnapshot struct {
	Timestamp   time.Time
	IsConnected bool

	ConnectionSuccess     float64
	CommandSuccessRate    float64
	QuerySuccessRate      float64
	AverageCommandLatency time.Duration
	MaxCommandLatency     time.Duration
	TimeoutRate           float64
	ErrorRate             float64
	ConsecutiveFailures   int64
	UptimeSeconds         float64

	TotalCommands int64
	TotalQueries  int64
	TotalTriggers int64
	TotalReadings int64
	ParseErrors   int64
	TotalErrors   int64

	HealthStatus string
	HealthScore  float64
}

// MetricsBroadcaster handles channel-based metrics broadcasting
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	broadcastTicker  *time.Ticker
	enabled          atomic.Bool
	stopCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once // Prevent double-close race
}

// NewMetricsBroadcaster creates a new metrics broadcaster with channel-based distribution
func NewMetricsBroadcaster(channelSize int64, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting metrics to the channel
func (mb *MetricsBroadcaster) Start(session *Session) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return // Already running
	}

	mb.broadcastTicker = time.NewTicker(mb.emissionInterval)

	go func() {
		defer mb.broadcastTicker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-mb.broadcastTicker.C:
				mb.broadcastMetrics(session)
			}
		}
	}()
}

// Stop stops broadcasting metrics
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
			close(mb.metricsChannel)
		})
	}
}

// BroadcastImmediate sends metrics immediately (for critical events)
func (mb *MetricsBroadcaster) BroadcastImmediate(session *Session) {
	mb.broadcastMetrics(session)
}

// GetMetricsChannel returns the read-only metrics channel for consumers
func (mb *MetricsBroadcaster) GetMetricsChannel() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcastMetrics(session *Session) {
	// Check if broadcaster is still enabled to prevent sending to closed channel
	if !mb.enabled.Load() {
		return
	}

	snapshot := session.GetMetricsSnapshot()

	// Non-blocking send to avoid goroutine blocking, with additional safety check
	select {
	case mb.metricsChannel <- *snapshot:
		// Successfully sent
	default:
		// Channel full or closed, skip this broadcast
	}
}

// Metrics calculation methods
func (m *Metrics) calculateConnectionSuccessRate() float64 {
	attempts := m.ConnectionAttempts.Load()
	if attempts == 0 {
		return 100.0
	}
	successes := m.SuccessfulConnects.Load()
	return float64(successes) / float64(attempts) * 100
}

func (m *Metrics) calculateCommandSuccessRate() float64 {
	commands := m.CommandsSent.Load()
	if commands == 0 {
		return 100.0
	}
	failures := m.CommandErrors.Load()
	return float64(commands-failures) / float64(commands) * 100
}

func (m *Metrics) calculateQuerySuccessRate() float64 {
	queries := m.QueriesSent.Load()
	if queries == 0 {
		return 100.0
	}
	failures := m.QueryErrors.Load()
	return float64(queries-failures) / float64(queries) * 100
}

func (m *Metrics) calculateAverageCommandLatency() time.Duration {
	total := m.CommandsSent.Load() + m.QueriesSent.Load()
	if total == 0 {
		return 0
	}
	totalTime := m.TotalCommandTime.Load()
	return time.Duration(totalTime / total)
}

func (m *Metrics) calculateTimeoutRate() float64 {
	totalOps := m.CommandsSent.Load() + m.QueriesSent.Load()
	if totalOps == 0 {
		return 0.0
	}
	return float64(m.TimeoutErrors.Load()) / float64(totalOps) * 100
}

func (m *Metrics) calculateUptime(isConnected bool, connectionStartTime int64) float64 {
	if !isConnected || connectionStartTime == 0 {
		return 0.0
	}

	now := time.Now().UnixNano()
	duration := now - connectionStartTime
	if duration <= 0 {
		return 0.0
	}

	return float64(duration) / float64(time.Second)
}

func (m *Metrics) assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}

	// Check for critical issues
	if snapshot.ErrorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	// Check for performance degradation
	if snapshot.ErrorRate > 10.0 || snapshot.TimeoutRate > 20.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func (m *Metrics) calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}

	score := 100.0

	// Deduct for errors
	score -= snapshot.ErrorRate * 2

	// Deduct for timeouts
	score -= snapshot.TimeoutRate

	// Deduct for consecutive failures (more severe penalty)
	score -= float64(snapshot.ConsecutiveFailures) * 10

	// Ensure score doesn't go below 0
	if score < 0 {
		score = 0
	}

	return score
}
