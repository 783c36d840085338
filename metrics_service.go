package bikeserial

import (
	"time"
)

// MetricsSnapshot is a point-in-time copy of the service metrics with derived rates.
type MetricsSnapshot struct {
	Timestamp   time.Time
	IsConnected bool
	PortName    string

	ConnectionAttempts int64
	SuccessfulConnects int64
	ConnectionFailures int64
	Uptime             time.Duration

	DetectionRuns     int64
	DetectionHits     int64
	PortsTried        int64
	CandidateFailures int64

	ReadOperations     int64
	SuccessfulReads    int64
	ReadTimeouts       int64
	ReadErrors         int64
	ReadRetries        int64
	FakeReads          int64
	BytesRead          int64
	AverageReadLatency time.Duration
	MaxReadLatency     time.Duration

	WriteOperations int64
	WriteErrors     int64
	DroppedWrites   int64
	BytesWritten    int64

	ConsecutiveFailures int64
	ErrorRate           float64 // percent of reads and writes that failed
	TimeoutRate         float64 // percent of reads that timed out
	HealthStatus        HealthStatus
	HealthScore         float64
}

// GetMetricsSnapshot returns current metrics. It is safe to call concurrently.
func (s *Service) GetMetricsSnapshot() MetricsSnapshot {
	s.setup()
	m := s.metrics
	connected := s.IsOpen()

	snap := MetricsSnapshot{
		Timestamp:   timeNow(),
		IsConnected: connected,
		PortName:    s.PortName(),

		ConnectionAttempts: m.ConnectionAttempts.Load(),
		SuccessfulConnects: m.SuccessfulConnects.Load(),
		ConnectionFailures: m.ConnectionFailures.Load(),

		DetectionRuns:     m.DetectionRuns.Load(),
		DetectionHits:     m.DetectionHits.Load(),
		PortsTried:        m.PortsTried.Load(),
		CandidateFailures: m.CandidateFailures.Load(),

		ReadOperations:  m.ReadOperations.Load(),
		SuccessfulReads: m.SuccessfulReads.Load(),
		ReadTimeouts:    m.ReadTimeouts.Load(),
		ReadErrors:      m.ReadErrors.Load(),
		ReadRetries:     m.ReadRetries.Load(),
		FakeReads:       m.FakeReads.Load(),
		BytesRead:       m.BytesRead.Load(),
		MaxReadLatency:  time.Duration(m.MaxReadTime.Load()),

		WriteOperations: m.WriteOperations.Load(),
		WriteErrors:     m.WriteErrors.Load(),
		DroppedWrites:   m.DroppedWrites.Load(),
		BytesWritten:    m.BytesWritten.Load(),

		ConsecutiveFailures: m.ConsecutiveFailures.Load(),
	}

	if snap.ReadOperations > 0 {
		snap.AverageReadLatency = time.Duration(m.TotalReadTime.Load() / snap.ReadOperations)
		snap.TimeoutRate = float64(snap.ReadTimeouts) / float64(snap.ReadOperations) * 100
	}
	if ops := snap.ReadOperations + snap.WriteOperations; ops > 0 {
		snap.ErrorRate = float64(snap.ReadErrors+snap.WriteErrors) / float64(ops) * 100
	}
	if start := m.ConnectionStartTime.Load(); connected && start > 0 {
		snap.Uptime = snap.Timestamp.Sub(time.Unix(0, start))
	}

	snap.HealthStatus = assessHealthStatus(&snap)
	snap.HealthScore = calculateHealthScore(&snap)
	return snap
}

func assessHealthStatus(snapshot *MetricsSnapshot) HealthStatus {
	if !snapshot.IsConnected {
		return HealthStatusDown
	}

	// Check for critical issues
	if snapshot.ErrorRate > 50.0 || snapshot.ConsecutiveFailures > 5 {
		return HealthStatusUnhealthy
	}

	// Timeouts are normal for an idle bike, so they only degrade at a high rate.
	if snapshot.ErrorRate > 10.0 || snapshot.TimeoutRate > 80.0 || snapshot.ConsecutiveFailures > 3 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

func calculateHealthScore(snapshot *MetricsSnapshot) float64 {
	if !snapshot.IsConnected {
		return 0.0
	}

	score := 100.0
	score -= snapshot.ErrorRate * 2
	score -= snapshot.TimeoutRate / 4
	score -= float64(snapshot.ConsecutiveFailures) * 10

	if score < 0 {
		score = 0
	}
	return score
}
