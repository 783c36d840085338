package bikeserial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Connection owns the open/closed state of one serial handle and frames its
// traffic as newline terminated text.
type Connection struct {
	name     string
	baudRate int

	readTimeout atomic.Duration
	isOpen      atomic.Bool

	mu     sync.RWMutex // guards handle
	handle portHandle

	readMu  sync.Mutex // one line read at a time
	pending []byte

	writeMu sync.Mutex
}

// NewConnection describes a port without opening it.
func NewConnection(name string, baudRate int, readTimeout time.Duration) *Connection {
	c := &Connection{name: name, baudRate: baudRate}
	c.readTimeout.Store(readTimeout)
	return c
}

func (c *Connection) Name() string { return c.name }

func (c *Connection) IsOpen() bool { return c.isOpen.Load() }

func (c *Connection) ReadTimeout() time.Duration { return c.readTimeout.Load() }

// Open opens the underlying port. Opening an already open connection is a no-op.
func (c *Connection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isOpen.Load() && c.handle != nil {
		return nil
	}

	h, err := openPort(c.name, portMode(c.baudRate))
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", c.name, err)
	}
	if h == nil {
		return fmt.Errorf("opening serial port %s: %s", c.name, ErrMsgNilPort)
	}
	if err = h.SetReadTimeout(c.readTimeout.Load()); err != nil {
		return errors.Join(fmt.Errorf("setting read timeout on %s: %w", c.name, err), h.Close())
	}

	c.handle = h
	c.isOpen.Store(true)
	return nil
}

// Close releases the handle. It is safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.handle
	c.handle = nil
	c.isOpen.Store(false)
	if h != nil {
		return h.Close()
	}
	return nil
}

// SetReadTimeout changes the per-read driver timeout, applying it to the open handle.
func (c *Connection) SetReadTimeout(d time.Duration) error {
	c.readTimeout.Store(d)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.handle == nil {
		return nil
	}
	return c.handle.SetReadTimeout(d)
}

// WriteLine writes one frame, appending the newline terminator.
func (c *Connection) WriteLine(line string) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isOpen.Load() || c.handle == nil {
		return 0, ErrPortNotOpen
	}

	data := []byte(line + "\n")
	written := 0
	for written < len(data) {
		n, err := c.handle.Write(data[written:])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// ReadLine returns the next frame without its terminator. It gives up with
// ErrReadTimeout once the read timeout has elapsed without a complete line, and
// stops early when ctx is done. Any other error comes from the driver.
func (c *Connection) ReadLine(ctx context.Context) (string, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if line, ok := c.takeLine(); ok {
		return line, nil
	}

	buf := getReadBuf()
	defer putReadBuf(buf)

	deadline := timeNow().Add(c.readTimeout.Load())
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		c.mu.RLock()
		h := c.handle
		c.mu.RUnlock()
		if h == nil || !c.isOpen.Load() {
			return "", ErrPortNotOpen
		}

		n, err := h.Read(buf)
		if err != nil {
			return "", err
		}
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			if line, ok := c.takeLine(); ok {
				if err := ctx.Err(); err != nil {
					// The caller is gone; keep the frame for the next read.
					c.unreadLine(line)
					return "", err
				}
				return line, nil
			}
			if len(c.pending) > maxLineSize {
				c.pending = c.pending[:0]
			}
		}

		if !timeNow().Before(deadline) {
			return "", ErrReadTimeout
		}
	}
}

// unreadLine pushes line back to the front of the pending buffer.
func (c *Connection) unreadLine(line string) {
	restored := make([]byte, 0, len(line)+1+len(c.pending))
	restored = append(restored, line...)
	restored = append(restored, '\n')
	c.pending = append(restored, c.pending...)
}

// takeLine pops the first complete line from the pending buffer.
func (c *Connection) takeLine() (string, bool) {
	idx := bytes.IndexByte(c.pending, '\n')
	if idx == -1 {
		return "", false
	}
	line := string(bytes.TrimRight(c.pending[:idx], "\r"))
	c.pending = append(c.pending[:0], c.pending[idx+1:]...)
	return line, true
}
