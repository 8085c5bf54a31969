package relay

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Frames for single-channel LCUS-type USB relay modules:
// start byte, channel, state, checksum (sum of the first three bytes).
const (
	frameStart   = 0xA0
	relayChannel = 0x01
)

// SerialDriver drives a USB serial relay module. The module has no reliable
// status query, so Level reports the last level written successfully.
type SerialDriver struct {
	mu    sync.Mutex
	port  io.ReadWriteCloser
	level bool
}

// OpenSerial opens the relay module on the named port.
func OpenSerial(name string, baud int) (*SerialDriver, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial relay %s: %w", name, err)
	}
	return NewSerialDriver(port), nil
}

// NewSerialDriver wraps an already-open port. Useful for tests.
func NewSerialDriver(port io.ReadWriteCloser) *SerialDriver {
	return &SerialDriver{port: port}
}

// Frame returns the command frame for the given level.
func Frame(high bool) []byte {
	var state byte
	if high {
		state = 0x01
	}
	return []byte{frameStart, relayChannel, state, frameStart + relayChannel + state}
}

// SetLevel writes the command frame for the level.
func (d *SerialDriver) SetLevel(high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	frame := Frame(high)
	n, err := d.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write relay frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("write relay frame: short write %d/%d", n, len(frame))
	}
	d.level = high
	return nil
}

// Level returns the last level written.
func (d *SerialDriver) Level() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level, nil
}

// Close closes the port.
func (d *SerialDriver) Close() error {
	return d.port.Close()
}
