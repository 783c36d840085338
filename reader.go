package bikeserial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultReadTimeout bounds a read when the caller does not choose a timeout.
	DefaultReadTimeout = 1200 * time.Millisecond

	// MaxReadRetries is the retry budget after I/O failures.
	MaxReadRetries = 10

	// NoRetry disables retries; used for the single probing read during detection.
	NoRetry = -1

	readRetryDelay       = time.Second
	readRetryTimeoutStep = 100 * time.Millisecond
)

// reader races each line read against a timer and retries I/O failures with a
// fixed backoff and a growing timeout.
type reader struct {
	logger     *zerolog.Logger
	metrics    *Metrics
	retryDelay time.Duration

	// inflight counts driver reads still running, including ones a timer abandoned.
	inflight sync.WaitGroup
}

func newReader(logger *zerolog.Logger, metrics *Metrics) *reader {
	return &reader{logger: logger, metrics: metrics, retryDelay: readRetryDelay}
}

type readResult struct {
	line string
	err  error
}

// read returns one line from conn, or false when the device produced nothing in
// time or the retry budget ran out. A negative retryCount means a single attempt;
// otherwise attempts continue until retryCount reaches MaxReadRetries.
func (r *reader) read(ctx context.Context, conn *Connection, timeout time.Duration, retryCount int) (string, bool) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	for {
		start := timeNow()
		line, err := r.attempt(ctx, conn, timeout)
		r.metrics.recordRead(len(line), err, timeNow().Sub(start))

		switch {
		case err == nil:
			return line, true
		case errors.Is(err, ErrReadTimeout):
			r.logger.Debug().Str("port", conn.Name()).Dur("timeout", timeout).Msg("no data before timeout")
			return "", false
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", false
		}

		r.logger.Error().Err(err).Str("port", conn.Name()).Int("retry", retryCount).Msg("error while reading from port")
		if retryCount < 0 || retryCount >= MaxReadRetries {
			return "", false
		}

		// Drop the handle; the next attempt re-opens it.
		if cerr := conn.Close(); cerr != nil {
			r.logger.Debug().Err(cerr).Str("port", conn.Name()).Msg("closing port after read error")
		}
		if !sleepCtx(ctx, r.retryDelay) {
			return "", false
		}

		retryCount++
		timeout += readRetryTimeoutStep
		r.metrics.ReadRetries.Inc()
	}
}

// attempt performs one read bounded by timeout. The timer winning cancels the
// read's context; the driver call itself may outlive the attempt. A line that
// completes after that stays buffered in conn for the next read.
func (r *reader) attempt(ctx context.Context, conn *Connection, timeout time.Duration) (string, error) {
	if err := conn.SetReadTimeout(timeout); err != nil {
		return "", err
	}
	if !conn.IsOpen() {
		if err := conn.Open(); err != nil {
			return "", err
		}
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan readResult, 1)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				done <- readResult{err: fmt.Errorf("reading %s: driver panic: %v", conn.Name(), rec)}
			}
		}()
		line, err := conn.ReadLine(readCtx)
		done <- readResult{line: line, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.line, res.err
	case <-timer.C:
		return "", ErrReadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
