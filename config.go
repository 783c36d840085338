package bikeserial

import (
	"runtime"
	"time"
)

const (
	// ConfigCacheKey names the cache record holding the last working DeviceConfig.
	ConfigCacheKey = "configs.json"

	DefaultBaudRate      = int(Baud9600)
	DefaultReadTimeoutMs = 500

	// StaleAfter is how long a detected port is trusted before detection runs again.
	StaleAfter = 24 * time.Hour
)

// DeviceConfig holds the last known working connection parameters for the controller.
type DeviceConfig struct {
	PortName      string    `json:"portName,omitempty" yaml:"portName,omitempty" validate:"omitempty,max=256,portname"`
	BaudRate      int       `json:"baudRate" yaml:"baudRate" validate:"baudrate"`
	ReadTimeoutMs int       `json:"readTimeout" yaml:"readTimeout" validate:"gte=0,lte=60000"`
	ModifiedTime  time.Time `json:"modifiedTime" yaml:"modifiedTime"`
	FakeRead      bool      `json:"fakeRead" yaml:"fakeRead"`
}

// DefaultConfig is used on a cache miss.
func DefaultConfig() DeviceConfig {
	return DeviceConfig{
		BaudRate:      DefaultBaudRate,
		ReadTimeoutMs: DefaultReadTimeoutMs,
	}
}

func (c DeviceConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// IsStale reports whether the cached port must be re-detected before use.
// A config that has never been confirmed by detection is always stale.
func (c DeviceConfig) IsStale(now time.Time) bool {
	if c.ModifiedTime.IsZero() {
		return true
	}
	return now.Sub(c.ModifiedTime) > StaleAfter
}

// ResolvedPortName returns the port to open, falling back when none was detected.
func (c DeviceConfig) ResolvedPortName(fallback string) string {
	if c.PortName != "" {
		return c.PortName
	}
	if fallback != "" {
		return fallback
	}
	return DefaultPortName()
}

// DefaultPortName is the port tried when neither detection nor the cache produced one.
func DefaultPortName() string {
	if runtime.GOOS == "windows" {
		return "COM4"
	}
	return "/dev/ttyUSB0"
}
