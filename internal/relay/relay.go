// Package relay maps the logical machine state onto a physical relay driver.
package relay

import (
	"errors"
	"fmt"
)

// ErrReadback is returned when the level read back after a write does not
// match what was written.
var ErrReadback = errors.New("relay: level read back does not match written level")

// Driver drives the physical signal level of a relay.
type Driver interface {
	// SetLevel drives the output high (true) or low (false).
	SetLevel(high bool) error

	// Level reads back the current physical level.
	Level() (bool, error)

	// Close releases the underlying device.
	Close() error
}

// Polarity is the mapping between logical on/off and physical high/low.
type Polarity struct {
	// ActiveLow means a LOW signal energizes the relay.
	ActiveLow bool
}

// Physical returns the signal level for a logical state.
func (p Polarity) Physical(on bool) bool {
	return on != p.ActiveLow
}

// Logical returns the logical state for a signal level.
func (p Polarity) Logical(high bool) bool {
	return high != p.ActiveLow
}

// Adapter exposes a Driver in logical terms.
type Adapter struct {
	driver   Driver
	polarity Polarity
}

// NewAdapter wraps driver with the deployment's fixed polarity.
func NewAdapter(driver Driver, polarity Polarity) *Adapter {
	return &Adapter{driver: driver, polarity: polarity}
}

// Set drives the relay to the logical state and verifies it by reading back.
// Writing the same state twice rewrites the same level.
func (a *Adapter) Set(on bool) error {
	level := a.polarity.Physical(on)
	if err := a.driver.SetLevel(level); err != nil {
		return fmt.Errorf("set relay %s: %w", stateName(on), err)
	}
	got, err := a.driver.Level()
	if err != nil {
		return fmt.Errorf("read back relay: %w", err)
	}
	if got != level {
		return fmt.Errorf("set relay %s: %w", stateName(on), ErrReadback)
	}
	return nil
}

// Get returns the logical state from the physical level.
func (a *Adapter) Get() (bool, error) {
	high, err := a.driver.Level()
	if err != nil {
		return false, fmt.Errorf("read relay: %w", err)
	}
	return a.polarity.Logical(high), nil
}

// Close closes the driver.
func (a *Adapter) Close() error {
	return a.driver.Close()
}

func stateName(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
