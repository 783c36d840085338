package bikeserial

import (
	"errors"
	"testing"
	"time"
)

// ----- Core Metrics Tests -----

func TestMetrics_RecordRead(t *testing.T) {
	m := &Metrics{}

	m.recordRead(10, nil, 5*time.Millisecond)
	m.recordRead(0, ErrReadTimeout, 20*time.Millisecond)
	m.recordRead(0, errMockIO, time.Millisecond)

	if m.ReadOperations.Load() != 3 {
		t.Fatalf("expected 3 read operations, got %d", m.ReadOperations.Load())
	}
	if m.SuccessfulReads.Load() != 1 || m.BytesRead.Load() != 10 {
		t.Fatalf("unexpected success counters: reads=%d bytes=%d", m.SuccessfulReads.Load(), m.BytesRead.Load())
	}
	if m.ReadTimeouts.Load() != 1 || m.ReadErrors.Load() != 1 {
		t.Fatalf("unexpected failure counters: timeouts=%d errors=%d", m.ReadTimeouts.Load(), m.ReadErrors.Load())
	}
	if time.Duration(m.MaxReadTime.Load()) != 20*time.Millisecond {
		t.Fatalf("expected max read time 20ms, got %v", time.Duration(m.MaxReadTime.Load()))
	}
	if m.ConsecutiveFailures.Load() != 1 {
		t.Fatalf("timeouts must not count as failures, got %d", m.ConsecutiveFailures.Load())
	}
}

func TestMetrics_ConsecutiveFailuresReset(t *testing.T) {
	m := &Metrics{}
	for i := 0; i < 3; i++ {
		m.recordWrite(0, errors.New("write failed"))
	}
	if m.ConsecutiveFailures.Load() != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", m.ConsecutiveFailures.Load())
	}
	m.recordConnect(nil)
	if m.ConsecutiveFailures.Load() != 0 {
		t.Fatal("successful connect should reset consecutive failures")
	}
	if m.SuccessfulConnects.Load() != 1 || m.ConnectionStartTime.Load() == 0 {
		t.Fatal("connect not recorded")
	}
}

func TestMetrics_HealthAssessment(t *testing.T) {
	tests := []struct {
		name string
		snap MetricsSnapshot
		want HealthStatus
	}{
		{"disconnected", MetricsSnapshot{}, HealthStatusDown},
		{"healthy", MetricsSnapshot{IsConnected: true, TimeoutRate: 40}, HealthStatusHealthy},
		{"timeouts", MetricsSnapshot{IsConnected: true, TimeoutRate: 90}, HealthStatusDegraded},
		{"errors", MetricsSnapshot{IsConnected: true, ErrorRate: 20}, HealthStatusDegraded},
		{"failing", MetricsSnapshot{IsConnected: true, ConsecutiveFailures: 6}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		if got := assessHealthStatus(&tt.snap); got != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}

	if score := calculateHealthScore(&MetricsSnapshot{IsConnected: true}); score != 100 {
		t.Fatalf("expected perfect score, got %v", score)
	}
	if score := calculateHealthScore(&MetricsSnapshot{IsConnected: true, ConsecutiveFailures: 20}); score != 0 {
		t.Fatalf("score should floor at zero, got %v", score)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	bus := installBus(t, "/dev/ttyUSB0")
	bus.port("/dev/ttyUSB0").setStream(deviceFrame)
	cache := newMemCache()
	seedConfig(t, cache, cachedConfig("/dev/ttyUSB0", time.Hour))

	svc := &Service{Cache: cache}
	bus.track(svc)
	defer svc.Close()

	if snap := svc.GetMetricsSnapshot(); snap.IsConnected || snap.HealthStatus != HealthStatusDown {
		t.Fatalf("expected down before Initialize, got %+v", snap)
	}

	if !svc.Initialize(t.Context()) {
		t.Fatal("Initialize failed")
	}
	for i := 0; i < 4; i++ {
		if _, ok := svc.ReadData(t.Context()); !ok {
			t.Fatal("read failed")
		}
	}

	snap := svc.GetMetricsSnapshot()
	if !snap.IsConnected || snap.PortName != "/dev/ttyUSB0" {
		t.Fatalf("expected connected snapshot, got %+v", snap)
	}
	if snap.SuccessfulReads != 4 || snap.BytesRead != int64(4*len(deviceFrame)) {
		t.Fatalf("unexpected read counters: %+v", snap)
	}
	if snap.HealthStatus != HealthStatusHealthy || snap.HealthScore != 100 {
		t.Fatalf("expected healthy link, got %s (%v)", snap.HealthStatus, snap.HealthScore)
	}
}

func TestMetricsBroadcaster_StartStop(t *testing.T) {
	mb := NewMetricsBroadcaster(1, 5*time.Millisecond)
	mb.Start(func() MetricsSnapshot {
		return MetricsSnapshot{PortName: "COM3"}
	})
	// A second Start is ignored.
	mb.Start(func() MetricsSnapshot { return MetricsSnapshot{PortName: "other"} })

	select {
	case snap := <-mb.Channel():
		if snap.PortName != "COM3" {
			t.Fatalf("unexpected snapshot source: %s", snap.PortName)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot broadcast")
	}

	mb.Stop()
	mb.Stop()
}
