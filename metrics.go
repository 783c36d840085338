package bikeserial

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Metrics tracks connection, detection and I/O health statistics
type Metrics struct {
	// Connection Statistics
	ConnectionAttempts  atomic.Int64 // Total open attempts by the manager
	SuccessfulConnects  atomic.Int64 // Successful opens
	ConnectionFailures  atomic.Int64 // Failed opens
	LastConnectTime     atomic.Int64 // Unix timestamp of last connect
	ConnectionStartTime atomic.Int64 // When current connection started (ns)

	// Detection
	DetectionRuns     atomic.Int64 // Scans actually executed
	DetectionHits     atomic.Int64 // Scans that found the device
	PortsTried        atomic.Int64 // Candidates opened during scans
	CandidateFailures atomic.Int64 // Candidates that failed to open or read
	LastDetectionTime atomic.Int64 // Unix timestamp of last completed scan

	// Read Operations
	ReadOperations  atomic.Int64 // Total read attempts, retries included
	SuccessfulReads atomic.Int64
	ReadTimeouts    atomic.Int64
	ReadErrors      atomic.Int64 // I/O failures
	ReadRetries     atomic.Int64
	FakeReads       atomic.Int64 // Simulated frames served
	BytesRead       atomic.Int64
	TotalReadTime   atomic.Int64 // ns
	MaxReadTime     atomic.Int64 // ns
	LastReadTime    atomic.Int64 // Unix timestamp

	// Write Operations
	WriteOperations  atomic.Int64
	SuccessfulWrites atomic.Int64
	WriteErrors      atomic.Int64
	DroppedWrites    atomic.Int64 // Writes skipped because the port was closed
	BytesWritten     atomic.Int64
	LastWriteTime    atomic.Int64

	// Health Indicators
	ConsecutiveFailures atomic.Int64
	LastErrorTime       atomic.Int64
}

// HealthStatus represents the overall health of the device link
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDown      HealthStatus = "down"
)

func (m *Metrics) recordRead(n int, err error, elapsed time.Duration) {
	m.ReadOperations.Inc()
	m.TotalReadTime.Add(int64(elapsed))
	for {
		prev := m.MaxReadTime.Load()
		if int64(elapsed) <= prev || m.MaxReadTime.CompareAndSwap(prev, int64(elapsed)) {
			break
		}
	}
	m.LastReadTime.Store(timeNow().Unix())

	switch {
	case err == nil:
		m.SuccessfulReads.Inc()
		m.BytesRead.Add(int64(n))
		m.ConsecutiveFailures.Store(0)
	case errors.Is(err, ErrReadTimeout):
		m.ReadTimeouts.Inc()
	default:
		m.ReadErrors.Inc()
		m.recordFailure()
	}
}

func (m *Metrics) recordWrite(n int, err error) {
	m.WriteOperations.Inc()
	m.LastWriteTime.Store(timeNow().Unix())
	if err != nil {
		m.WriteErrors.Inc()
		m.recordFailure()
		return
	}
	m.SuccessfulWrites.Inc()
	m.BytesWritten.Add(int64(n))
}

func (m *Metrics) recordConnect(err error) {
	m.ConnectionAttempts.Inc()
	if err != nil {
		m.ConnectionFailures.Inc()
		m.recordFailure()
		return
	}
	now := timeNow()
	m.SuccessfulConnects.Inc()
	m.LastConnectTime.Store(now.Unix())
	m.ConnectionStartTime.Store(now.UnixNano())
	m.ConsecutiveFailures.Store(0)
}

func (m *Metrics) recordFailure() {
	m.ConsecutiveFailures.Inc()
	m.LastErrorTime.Store(timeNow().Unix())
}

// MetricsBroadcaster periodically publishes snapshots on a channel
type MetricsBroadcaster struct {
	metricsChannel   chan MetricsSnapshot
	enabled          atomic.Bool
	stopCh           chan struct{}
	emissionInterval time.Duration
	stopOnce         sync.Once
}

// NewMetricsBroadcaster creates a new metrics broadcaster with channel-based distribution
func NewMetricsBroadcaster(channelSize int, interval time.Duration) *MetricsBroadcaster {
	return &MetricsBroadcaster{
		metricsChannel:   make(chan MetricsSnapshot, channelSize),
		stopCh:           make(chan struct{}),
		emissionInterval: interval,
	}
}

// Start begins broadcasting snapshots taken by source
func (mb *MetricsBroadcaster) Start(source func() MetricsSnapshot) {
	if !mb.enabled.CompareAndSwap(false, true) {
		return
	}

	ticker := time.NewTicker(mb.emissionInterval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-mb.stopCh:
				return
			case <-ticker.C:
				mb.broadcast(source())
			}
		}
	}()
}

// Stop stops broadcasting. A stopped broadcaster cannot be restarted; the channel
// is left open so a late tick never sends on a closed channel.
func (mb *MetricsBroadcaster) Stop() {
	if mb.enabled.CompareAndSwap(true, false) {
		mb.stopOnce.Do(func() {
			close(mb.stopCh)
		})
	}
}

// Channel returns the read-only snapshot channel for consumers
func (mb *MetricsBroadcaster) Channel() <-chan MetricsSnapshot {
	return mb.metricsChannel
}

func (mb *MetricsBroadcaster) broadcast(snapshot MetricsSnapshot) {
	if !mb.enabled.Load() {
		return
	}
	// Non-blocking: a slow consumer misses snapshots rather than stalling the ticker.
	select {
	case mb.metricsChannel <- snapshot:
	default:
	}
}
