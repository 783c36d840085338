package bikeserial

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

const (
	detectKey = "detect"

	// scanTimeoutMargin is added to the configured read timeout for scan reads.
	scanTimeoutMargin = 10 * time.Millisecond

	waitRetryDelay = time.Millisecond
)

// errNoScan is returned by the placeholder call Wait registers when no scan is running.
var errNoScan = errors.New("no detection running")

// DetectionResult is the outcome of one scan.
type DetectionResult struct {
	// Config is the configuration after the scan. Unless Found it equals the input.
	Config DeviceConfig
	// Conn is the open connection to the device; set only when Found.
	Conn  *Connection
	Found bool
	Tried int
}

// Detector finds the serial port the controller is attached to. At most one scan
// runs at a time; concurrent callers share it.
type Detector struct {
	// OnDetected, when set, receives a successful result from inside the scan,
	// before any waiter is released. The callee takes ownership of Conn.
	OnDetected func(DetectionResult)

	logger  *zerolog.Logger
	metrics *Metrics
	cache   Cache
	reader  *reader

	group   singleflight.Group
	running atomic.Bool
	waiters atomic.Int64
}

// NewDetector builds a detector persisting confirmed ports into cache. A nil
// cache disables persistence; nil logger and metrics are replaced by no-ops.
func NewDetector(cache Cache, logger *zerolog.Logger, metrics *Metrics) *Detector {
	logger = loggerOrNop(logger)
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Detector{
		logger:  logger,
		metrics: metrics,
		cache:   cache,
		reader:  newReader(logger, metrics),
	}
}

// InFlight reports whether a scan is running or about to start.
func (d *Detector) InFlight() bool {
	return d.running.Load() || d.waiters.Load() > 0
}

// DetectPort starts a scan, or joins the one already running, and returns a
// channel that delivers its outcome once. The channel is closed without a value
// if ctx ends first; the scan itself is not cancelled by ctx. A caller joining a
// running scan gets that scan's result even though its cfg was not used.
func (d *Detector) DetectPort(ctx context.Context, cfg DeviceConfig) <-chan DetectionResult {
	out := make(chan DetectionResult, 1)
	d.waiters.Inc()

	go func() {
		defer d.waiters.Dec()
		for {
			ch := d.group.DoChan(detectKey, func() (any, error) {
				return d.run(ctx, cfg), nil
			})
			select {
			case res := <-ch:
				if errors.Is(res.Err, errNoScan) {
					// Joined a Wait placeholder that raced a finished scan.
					continue
				}
				out <- res.Val.(DetectionResult)
				return
			case <-ctx.Done():
				close(out)
				return
			}
		}
	}()

	return out
}

// Detect runs DetectPort and waits for it.
func (d *Detector) Detect(ctx context.Context, cfg DeviceConfig) (DetectionResult, error) {
	res, ok := <-d.DetectPort(ctx, cfg)
	if !ok {
		return DetectionResult{Config: cfg}, ctx.Err()
	}
	return res, nil
}

// Wait blocks until the running scan finishes and returns its result. It never
// starts a scan and reports false when none was running. A caller that has
// entered DetectPort but not yet started its scan counts as running.
func (d *Detector) Wait(ctx context.Context) (DetectionResult, bool) {
	for d.InFlight() {
		ch := d.group.DoChan(detectKey, func() (any, error) {
			return nil, errNoScan
		})
		select {
		case res := <-ch:
			if errors.Is(res.Err, errNoScan) {
				// Only the placeholder ran; give the pending scan a moment to register.
				if !sleepCtx(ctx, waitRetryDelay) {
					return DetectionResult{}, false
				}
				continue
			}
			if res.Err != nil {
				return DetectionResult{}, false
			}
			return res.Val.(DetectionResult), true
		case <-ctx.Done():
			return DetectionResult{}, false
		}
	}
	return DetectionResult{}, false
}

func (d *Detector) run(ctx context.Context, cfg DeviceConfig) DetectionResult {
	d.running.Store(true)
	defer d.running.Store(false)

	d.metrics.DetectionRuns.Inc()
	res := d.scan(context.WithoutCancel(ctx), cfg)
	d.metrics.LastDetectionTime.Store(timeNow().Unix())

	if res.Found && d.OnDetected != nil {
		d.OnDetected(res)
	}
	return res
}

// scan tries every enumerated port in order and stops at the first one whose
// output carries the device signature.
func (d *Detector) scan(ctx context.Context, cfg DeviceConfig) DetectionResult {
	result := DetectionResult{Config: cfg}

	ports, err := getPortsList()
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to enumerate serial ports")
		return result
	}
	d.logger.Debug().Strs("ports", ports).Msg("scanning serial ports")

	timeout := cfg.ReadTimeout() + scanTimeoutMargin
	for _, name := range ports {
		result.Tried++

		conn, ok := d.tryPort(ctx, name, cfg.BaudRate, timeout)
		if !ok {
			continue
		}

		cfg.PortName = name
		cfg.ModifiedTime = timeNow().UTC()
		if d.cache != nil {
			if err = d.cache.Store(ConfigCacheKey, cfg); err != nil {
				d.logger.Error().Err(err).Str("port", name).Msg("failed to persist detected port")
			}
		}
		d.metrics.DetectionHits.Inc()
		d.logger.Info().Str("port", name).Int("tried", result.Tried).Msg("device detected")

		result.Config = cfg
		result.Conn = conn
		result.Found = true
		return result
	}

	d.logger.Warn().Int("tried", result.Tried).Msg("device not found on any serial port")
	return result
}

// tryPort opens one candidate and checks a single line of its output. Any failure,
// a driver panic included, means "not the device".
func (d *Detector) tryPort(ctx context.Context, name string, baudRate int, timeout time.Duration) (conn *Connection, ok bool) {
	d.metrics.PortsTried.Inc()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.CandidateFailures.Inc()
			d.logger.Error().Str("port", name).Interface("panic", r).Msg("error accessing port")
			if conn != nil {
				_ = conn.Close()
			}
			conn, ok = nil, false
		}
	}()

	conn = NewConnection(name, baudRate, timeout)
	if err := conn.Open(); err != nil {
		d.metrics.CandidateFailures.Inc()
		d.logger.Warn().Err(err).Str("port", name).Msg("error accessing port")
		return nil, false
	}

	line, got := d.reader.read(ctx, conn, timeout, NoRetry)
	switch {
	case !got || line == "":
		d.logger.Debug().Str("port", name).Msg("no data from port")
	case IsDeviceFrame(line):
		return conn, true
	default:
		d.logger.Debug().Str("port", name).Str("line", line).Msg("device signature not found")
	}

	if err := conn.Close(); err != nil {
		d.logger.Debug().Err(err).Str("port", name).Msg("closing candidate port")
	}
	return nil, false
}

func loggerOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}
