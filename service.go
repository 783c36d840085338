package bikeserial

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxOpenAttempts bounds Initialize: one open, one re-detection, one more open.
const maxOpenAttempts = 2

// Service manages the link to the bike controller: it finds the port, keeps a
// single connection, and reads and writes newline framed text over it.
//
// Errors never escape to callers. Initialize reports readiness as a bool and
// reads report absence of data as false.
type Service struct {
	Logger *zerolog.Logger
	// Cache persists the detected configuration. Nil keeps it in memory only.
	Cache Cache
	// FallbackPort is opened when neither the cache nor detection named a port.
	// Empty means DefaultPortName().
	FallbackPort string
	// MetricsInterval enables snapshot broadcasting between Start and Stop.
	MetricsInterval time.Duration

	setupOnce sync.Once
	logger    *zerolog.Logger
	metrics   *Metrics
	reader    *reader
	detector  *Detector
	fake      *fakeSource

	configMu sync.RWMutex
	config   DeviceConfig

	mu   sync.Mutex // guards conn
	conn *Connection

	sessionMu   sync.Mutex
	session     *Session
	broadcaster *MetricsBroadcaster
}

var _ Communicator = (*Service)(nil)

func (s *Service) setup() {
	s.setupOnce.Do(func() {
		s.logger = loggerOrNop(s.Logger)
		s.metrics = &Metrics{}
		s.reader = newReader(s.logger, s.metrics)
		s.detector = NewDetector(s.Cache, s.logger, s.metrics)
		s.detector.OnDetected = s.adoptDetected
		s.fake = newFakeSource(uint64(timeNow().UnixNano()))
		s.config = s.loadConfig()
	})
}

// loadConfig reads the cached configuration, falling back to defaults on a miss
// or an unreadable entry.
func (s *Service) loadConfig() DeviceConfig {
	if s.Cache == nil {
		return DefaultConfig()
	}

	cfg := DefaultConfig()
	found, err := s.Cache.Load(ConfigCacheKey, &cfg)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load device config, using defaults")
		return DefaultConfig()
	}
	if !found {
		s.logger.Debug().Msg("no cached device config, using defaults")
		return DefaultConfig()
	}

	if err = ValidateConfig(&cfg); err != nil {
		reset := NormalizeConfig(&cfg)
		s.logger.Warn().Err(err).Strs("reset", reset).Msg("cached device config invalid")
	}
	cfg.ModifiedTime = cfg.ModifiedTime.UTC()
	return cfg
}

// Initialize makes sure a connection is open, detecting the port first when the
// cached one is stale. It can be called repeatedly; false means "not ready yet".
func (s *Service) Initialize(ctx context.Context) bool {
	s.setup()

	if s.IsOpen() {
		return true
	}

	if _, waited := s.detector.Wait(ctx); waited && s.IsOpen() {
		return true
	}

	if s.currentConfig().IsStale(timeNow()) {
		s.logger.Info().Str("port", s.currentConfig().PortName).Msg("device config stale, detecting port")
		if s.detect(ctx) && s.IsOpen() {
			return true
		}
	}

	for attempt := 1; ; attempt++ {
		err := s.open()
		if err == nil {
			return true
		}
		s.logger.Error().Err(err).Int("attempt", attempt).Msg("error opening serial port")
		if attempt >= maxOpenAttempts {
			return false
		}
		if s.detect(ctx) && s.IsOpen() {
			return true
		}
	}
}

// Detect forces a scan regardless of the cached configuration. The current
// connection is released first so its port can be scanned.
func (s *Service) Detect(ctx context.Context) bool {
	s.setup()
	if !s.detector.InFlight() {
		s.adopt(nil)
	}
	return s.detect(ctx)
}

func (s *Service) detect(ctx context.Context) bool {
	res, err := s.detector.Detect(ctx, s.currentConfig())
	if err != nil {
		s.logger.Debug().Err(err).Msg("stopped waiting for detection")
		return false
	}
	return res.Found
}

func (s *Service) open() error {
	cfg := s.currentConfig()
	conn := NewConnection(cfg.ResolvedPortName(s.FallbackPort), cfg.BaudRate, cfg.ReadTimeout())

	err := conn.Open()
	s.metrics.recordConnect(err)
	if err != nil {
		return err
	}

	s.adopt(conn)
	s.logger.Info().Str("port", conn.Name()).Int("baud", cfg.BaudRate).Msg("serial port opened")
	return nil
}

// adoptDetected takes ownership of the connection a successful scan produced.
func (s *Service) adoptDetected(res DetectionResult) {
	s.setConfig(res.Config)
	if err := res.Conn.SetReadTimeout(res.Config.ReadTimeout()); err != nil {
		s.logger.Debug().Err(err).Str("port", res.Conn.Name()).Msg("restoring read timeout")
	}
	s.metrics.recordConnect(nil)
	s.adopt(res.Conn)
}

// adopt swaps the owned connection, closing the previous one.
func (s *Service) adopt(conn *Connection) {
	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()

	if prev != nil && prev != conn {
		if err := prev.Close(); err != nil {
			s.logger.Debug().Err(err).Str("port", prev.Name()).Msg("closing replaced connection")
		}
	}
}

// connection returns the owned connection, allocating a closed one from the
// configuration when there is none so the reader can open it.
func (s *Service) connection() *Connection {
	cfg := s.currentConfig()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.conn = NewConnection(cfg.ResolvedPortName(s.FallbackPort), cfg.BaudRate, cfg.ReadTimeout())
	}
	return s.conn
}

// ReadData returns the next line from the device with the default timeout and
// retry budget. With FakeRead set and no open port it returns simulated telemetry.
func (s *Service) ReadData(ctx context.Context) (string, bool) {
	return s.ReadDataTimeout(ctx, DefaultReadTimeout, 0)
}

// ReadDataTimeout reads one line, giving up after timeout. A non-negative
// retryCount allows retries after I/O errors until it reaches MaxReadRetries;
// NoRetry makes a single attempt.
func (s *Service) ReadDataTimeout(ctx context.Context, timeout time.Duration, retryCount int) (string, bool) {
	if s.Simulating() {
		s.metrics.FakeReads.Inc()
		return s.fake.next(), true
	}
	return s.reader.read(ctx, s.connection(), timeout, retryCount)
}

// Simulating reports whether reads are served from simulated telemetry, which
// returns immediately instead of waiting on the device.
func (s *Service) Simulating() bool {
	s.setup()
	return s.currentConfig().FakeRead && !s.IsOpen()
}

// SendData writes line to the device. It is dropped silently when the port is
// not open; write errors are logged and not retried.
func (s *Service) SendData(line string) {
	s.setup()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || !conn.IsOpen() {
		s.metrics.DroppedWrites.Inc()
		s.logger.Debug().Msg("port not open, dropping write")
		return
	}

	n, err := conn.WriteLine(line)
	s.metrics.recordWrite(n, err)
	if err != nil {
		s.logger.Error().Err(err).Str("port", conn.Name()).Msg("error writing to port")
	}
}

// Close releases the serial handle. Stop does not; call Close at teardown.
func (s *Service) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Service) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsOpen()
}

// PortName is the port of the current connection, or "" when there is none.
func (s *Service) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.Name()
}

// Config returns a copy of the active device configuration.
func (s *Service) Config() DeviceConfig {
	s.setup()
	return s.currentConfig()
}

// Detector exposes the port detector, mostly for callers that want to observe scans.
func (s *Service) Detector() *Detector {
	s.setup()
	return s.detector
}

func (s *Service) currentConfig() DeviceConfig {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

func (s *Service) setConfig(cfg DeviceConfig) {
	s.configMu.Lock()
	s.config = cfg
	s.configMu.Unlock()
}
