package bikeserial

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobug "go.bug.st/serial"
	"go.uber.org/atomic"
)

const deviceFrame = `{"distance_1":12.5,"distance_2":11.0}`

var errMockIO = errors.New("mock: device disconnected")

// mockPort is a scripted serial device. It survives Close so a test can observe
// re-opens of the same name.
type mockPort struct {
	name string

	mu       sync.Mutex
	readCh   chan []byte
	closeCh  chan struct{}
	stream   []byte  // returned by every Read when set
	readErrs []error // returned, in order, before any data
	hang     bool    // ignore the read timeout
	panics   bool
	timeout  time.Duration
	timeouts []time.Duration
	writes   [][]byte
	closed   bool
	opens    int
	baud     int
}

func newMockPort(name string) *mockPort {
	return &mockPort{
		name:    name,
		readCh:  make(chan []byte, 16),
		closeCh: make(chan struct{}),
		closed:  true,
	}
}

func (m *mockPort) reopen(baud int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.closeCh = make(chan struct{})
	}
	m.closed = false
	m.opens++
	m.baud = baud
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("mock: port closed")
	}
	if m.panics {
		m.mu.Unlock()
		panic("mock: driver fault")
	}
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		m.mu.Unlock()
		return 0, err
	}
	if m.stream != nil {
		n := copy(p, m.stream)
		m.mu.Unlock()
		return n, nil
	}
	timeout, hang, closeCh := m.timeout, m.hang, m.closeCh
	m.mu.Unlock()

	var expired <-chan time.Time
	if !hang {
		expired = time.After(timeout)
	}
	select {
	case b := <-m.readCh:
		return copy(p, b), nil
	case <-closeCh:
		return 0, errors.New("mock: port closed")
	case <-expired:
		return 0, nil
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("mock: port closed")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	m.writes = append(m.writes, cp)
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.closeCh)
		m.closed = true
	}
	return nil
}

func (m *mockPort) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
	m.timeouts = append(m.timeouts, d)
	return nil
}

func (m *mockPort) setStream(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream = []byte(line + "\n")
}

func (m *mockPort) setReadErrs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs = nil
	for i := 0; i < n; i++ {
		m.readErrs = append(m.readErrs, errMockIO)
	}
}

func (m *mockPort) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockPort) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *mockPort) recordedTimeouts() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timeouts...)
}

func (m *mockPort) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = string(w)
	}
	return out
}

// mockBus replaces the driver's open and enumeration hooks for one test.
type mockBus struct {
	mu      sync.Mutex
	ports   map[string]*mockPort
	order   []string
	openErr map[string]error
	listErr error
	gate    chan struct{} // when set, enumeration blocks until closed
	readers []*reader

	listCalls atomic.Int64
}

func installBus(t *testing.T, names ...string) *mockBus {
	t.Helper()

	b := &mockBus{
		ports:   make(map[string]*mockPort),
		openErr: make(map[string]error),
	}
	for _, n := range names {
		b.ports[n] = newMockPort(n)
		b.order = append(b.order, n)
	}

	origOpen, origList := openPort, getPortsList
	openPort = b.open
	getPortsList = b.list
	t.Cleanup(func() {
		// Closing the ports releases reads a timer abandoned; wait for them
		// before the hooks are restored.
		for _, p := range b.ports {
			_ = p.Close()
		}
		b.mu.Lock()
		readers := b.readers
		b.mu.Unlock()
		for _, r := range readers {
			r.inflight.Wait()
		}
		openPort, getPortsList = origOpen, origList
	})
	return b
}

// track registers the readers owned by v so the bus waits for them at cleanup.
func (b *mockBus) track(v any) {
	var rs []*reader
	switch x := v.(type) {
	case *reader:
		rs = append(rs, x)
	case *Detector:
		rs = append(rs, x.reader)
	case *Service:
		x.setup()
		rs = append(rs, x.reader, x.detector.reader)
	}
	b.mu.Lock()
	b.readers = append(b.readers, rs...)
	b.mu.Unlock()
}

func (b *mockBus) port(name string) *mockPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ports[name]
}

func (b *mockBus) failOpen(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr[name] = err
}

func (b *mockBus) open(name string, mode *gobug.Mode) (portHandle, error) {
	b.mu.Lock()
	err := b.openErr[name]
	p, ok := b.ports[name]
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("mock: no such port %s", name)
	}
	p.reopen(mode.BaudRate)
	return p, nil
}

func (b *mockBus) list() ([]string, error) {
	b.listCalls.Inc()
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]string(nil), b.order...), nil
}

// memCache is an in-memory Cache recording writes.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	stores  int
	loadErr error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Load(key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return false, c.loadErr
	}
	data, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (c *memCache) Store(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	c.stores++
	return nil
}

func (c *memCache) storeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stores
}

func (c *memCache) config(t *testing.T) DeviceConfig {
	t.Helper()
	var cfg DeviceConfig
	found, err := c.Load(ConfigCacheKey, &cfg)
	if err != nil || !found {
		t.Fatalf("cached config missing: found=%v err=%v", found, err)
	}
	return cfg
}

func seedConfig(t *testing.T, c *memCache, cfg DeviceConfig) {
	t.Helper()
	if err := c.Store(ConfigCacheKey, cfg); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	c.mu.Lock()
	c.stores = 0
	c.mu.Unlock()
}
