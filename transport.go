package bikeserial

import (
	"time"

	gobug "go.bug.st/serial"
)

// portHandle abstracts the subset of go.bug.st/serial.Port used by this package.
type portHandle interface {
	SetReadTimeout(timeout time.Duration) error
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// allow tests to override external dependencies
var (
	openPort     = func(name string, mode *gobug.Mode) (portHandle, error) { return gobug.Open(name, mode) }
	getPortsList = gobug.GetPortsList
	timeNow      = time.Now
)

func portMode(baudRate int) *gobug.Mode {
	return &gobug.Mode{
		BaudRate: BaudRate(baudRate).Int(),
		DataBits: 8,
		Parity:   gobug.NoParity,
		StopBits: gobug.OneStopBit,
	}
}
