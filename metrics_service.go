package dmm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Metrics accessor and management methods for Session

// GetMetrics returns the current metrics instance
func (s *Session) GetMetrics() *Metrics {
	if s.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return s.metrics
}

// GetMetricsSnapshot creates a snapshot of session health for consumers.
func (s *Session) GetMetricsSnapshot() *MetricsSnapshot {
	if s.metrics == nil {
		return &MetricsSnapshot{
			Timestamp:    time.Now(),
			HealthStatus: string(HealthStatusDown),
			HealthScore:  0,
		}
	}

	now := time.Now()
	isConnected := s.connected.Load()
	connectionStartTime := s.metrics.ConnectionStartTime.Load()

	snapshot := &MetricsSnapshot{
		Timestamp:   now,
		IsConnected: isConnected,
	}

	// Calculate rates and averages
	snapshot.ConnectionSuccess = s.metrics.calculateConnectionSuccessRate()
	snapshot.CommandSuccessRate = s.metrics.calculateCommandSuccessRate()
	snapshot.QuerySuccessRate = s.metrics.calculateQuerySuccessRate()
	snapshot.AverageCommandLatency = s.metrics.calculateAverageCommandLatency()
	snapshot.MaxCommandLatency = time.Duration(s.metrics.MaxCommandTime.Load())
	snapshot.TimeoutRate = s.metrics.calculateTimeoutRate()
	snapshot.ErrorRate = float64(s.metrics.ErrorRate.Load()) / 10.0 // Convert from per-1000 to percentage
	snapshot.ConsecutiveFailures = s.metrics.ConsecutiveFailures.Load()
	snapshot.UptimeSeconds = s.metrics.calculateUptime(isConnected, connectionStartTime)

	// Detailed counts for debugging
	snapshot.TotalCommands = s.metrics.CommandsSent.Load()
	snapshot.TotalQueries = s.metrics.QueriesSent.Load()
	snapshot.TotalTriggers = s.metrics.TriggersSent.Load()
	snapshot.TotalReadings = s.metrics.Readings.Load()
	snapshot.ParseErrors = s.metrics.ParseErrors.Load()
	snapshot.TotalErrors = s.metrics.CommandErrors.Load() + s.metrics.QueryErrors.Load()

	// Health assessment
	health := s.metrics.assessHealthStatus(snapshot)
	snapshot.HealthStatus = string(health)
	snapshot.HealthScore = s.metrics.calculateHealthScore(snapshot)

	return snapshot
}

// EnableMetrics turns on metrics collection
func (s *Session) EnableMetrics() {
	s.metricsEnabled.Store(true)
}

// DisableMetrics turns off metrics collection
func (s *Session) DisableMetrics() {
	s.metricsEnabled.Store(false)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func (s *Session) IsMetricsEnabled() bool {
	return s.metricsEnabled.Load()
}

// ResetMetrics clears all metrics (useful for testing)
func (s *Session) ResetMetrics() {
	if s.metrics != nil {
		s.metrics = &Metrics{}
	}
}

// StartMetricsBroadcasting begins broadcasting metrics to the channel
func (s *Session) StartMetricsBroadcasting(interval time.Duration) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	if s.metricsBroadcaster != nil {
		s.metricsBroadcaster.Stop()
	}

	channelSize := s.Config.Serial.MetricsChannelSize
	if channelSize <= 0 {
		channelSize = 50 // Default channel size
	} else if channelSize > 10000 {
		// Prevent excessive memory allocation for metrics channel
		return fmt.Errorf("metrics channel size too large: %d (max 10000)", channelSize)
	}

	s.metricsBroadcaster = NewMetricsBroadcaster(channelSize, interval)
	s.metricsBroadcaster.Start(s)
	return nil
}

// StopMetricsBroadcasting stops broadcasting metrics
func (s *Session) StopMetricsBroadcasting() {
	if s.metricsBroadcaster != nil {
		s.metricsBroadcaster.Stop()
		s.metricsBroadcaster = nil
	}
}

// BroadcastMetricsImmediate sends current metrics to channel immediately
func (s *Session) BroadcastMetricsImmediate() {
	if s.metricsBroadcaster != nil {
		s.metricsBroadcaster.BroadcastImmediate(s)
	}
}

// MetricsChannel returns the read-only metrics channel for consumers
func (s *Session) MetricsChannel() (<-chan MetricsSnapshot, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if s.metricsBroadcaster == nil {
		return nil, errors.New("metrics broadcasting not started")
	}
	return s.metricsBroadcaster.GetMetricsChannel(), nil
}

// Internal metrics recording methods

func (s *Session) recordCommand(err error, duration time.Duration) {
	if !s.metricsEnabled.Load() || s.metrics == nil {
		return
	}

	s.metrics.CommandsSent.Add(1)
	s.metrics.LastCommandTime.Store(time.Now().Unix())
	s.metrics.TotalCommandTime.Add(duration.Nanoseconds())
	s.updateMaxCommandTime(duration)

	if err != nil {
		s.metrics.CommandErrors.Add(1)
		s.incrementConsecutiveFailures()
		s.recordErrorMetrics(err)
	} else {
		s.resetConsecutiveFailures()
	}
}

func (s *Session) recordQuery(err error, duration time.Duration) {
	if !s.metricsEnabled.Load() || s.metrics == nil {
		return
	}

	s.metrics.QueriesSent.Add(1)
	s.metrics.LastCommandTime.Store(time.Now().Unix())
	s.metrics.TotalCommandTime.Add(duration.Nanoseconds())
	s.updateMaxCommandTime(duration)

	if err != nil {
		s.metrics.QueryErrors.Add(1)
		s.incrementConsecutiveFailures()
		s.recordErrorMetrics(err)
	} else {
		s.resetConsecutiveFailures()
	}
}

func (s *Session) updateMaxCommandTime(duration time.Duration) {
	for {
		current := s.metrics.MaxCommandTime.Load()
		if duration.Nanoseconds() <= current {
			break
		}
		if s.metrics.MaxCommandTime.CompareAndSwap(current, duration.Nanoseconds()) {
			break
		}
	}
}

func (s *Session) recordErrorMetrics(err error) {
	if s.metrics == nil {
		return
	}

	s.metrics.LastErrorTime.Store(time.Now().Unix())

	// Categorize errors
	if errors.Is(err, context.DeadlineExceeded) {
		s.metrics.TimeoutErrors.Add(1)
	} else if errors.Is(err, context.Canceled) {
		// Context cancellation is not necessarily an error
	} else if errors.Is(err, ErrInvalidPortName) {
		s.metrics.PortValidationErrors.Add(1)
	}

	// Update error rate (errors per 1000 operations)
	totalOps := s.metrics.CommandsSent.Load() + s.metrics.QueriesSent.Load()
	totalErrors := s.metrics.CommandErrors.Load() + s.metrics.QueryErrors.Load()
	if totalOps > 0 {
		errorRate := (totalErrors * 1000) / totalOps
		s.metrics.ErrorRate.Store(errorRate)
	}
}

func (s *Session) incrementConsecutiveFailures() {
	if s.metrics != nil {
		s.metrics.ConsecutiveFailures.Add(1)
	}
}

func (s *Session) resetConsecutiveFailures() {
	if s.metrics != nil {
		s.metrics.ConsecutiveFailures.Store(0)
	}
}
