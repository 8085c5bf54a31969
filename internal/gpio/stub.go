//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RelayLine is not available on non-Linux platforms.
type RelayLine struct{}

// OpenRelayLine returns an error on non-Linux platforms.
func OpenRelayLine(chipName string, pin int, initialHigh bool) (*RelayLine, error) {
	return nil, errUnsupported
}

// SetLevel is not implemented on non-Linux platforms.
func (r *RelayLine) SetLevel(high bool) error {
	return errUnsupported
}

// Level is not implemented on non-Linux platforms.
func (r *RelayLine) Level() (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RelayLine) Close() error {
	return nil
}

// CoinWatcher is not available on non-Linux platforms.
type CoinWatcher struct{}

// WatchCoin returns an error on non-Linux platforms.
func WatchCoin(chipName string, pin int, debounce time.Duration, post func()) (*CoinWatcher, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *CoinWatcher) Close() error {
	return nil
}
