//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RelayLine drives the relay from a GPIO output line.
type RelayLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// OpenRelayLine requests pin as an output at the given initial level so the
// relay does not glitch before the restored state is applied.
func OpenRelayLine(chipName string, pin int, initialHigh bool) (*RelayLine, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(levelValue(initialHigh)))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RelayLine{chip: chip, line: line}, nil
}

// SetLevel drives the line.
func (r *RelayLine) SetLevel(high bool) error {
	if err := r.line.SetValue(levelValue(high)); err != nil {
		return fmt.Errorf("write relay line: %w", err)
	}
	return nil
}

// Level reads the line back.
func (r *RelayLine) Level() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read relay line: %w", err)
	}
	return v != 0, nil
}

// Close releases the line and chip. The kernel keeps the last driven level.
func (r *RelayLine) Close() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay line: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// CoinWatcher delivers debounced falling edges from the coin acceptor.
type CoinWatcher struct {
	chip  *gpiocdev.Chip
	line  *gpiocdev.Line
	edges *coinEdges
}

// WatchCoin requests pin as a pulled-up input with falling edge detection.
// The kernel debounces with the given period and the software filter drops
// anything the kernel let through inside the same period. post is called on
// the gpiocdev event goroutine for every accepted edge.
func WatchCoin(chipName string, pin int, debounce time.Duration, post func()) (*CoinWatcher, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &CoinWatcher{
		chip:  chip,
		edges: newCoinEdges(debounce, post, nil),
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(w.handle),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request coin pin %d: %w", pin, err)
	}
	w.line = line
	return w, nil
}

func (w *CoinWatcher) handle(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventFallingEdge {
		return
	}
	w.edges.falling()
}

// Close releases the coin line. Reconfigures it to input with pull-down
// (matching Pi boot defaults) before closing.
func (w *CoinWatcher) Close() error {
	var errs []error
	if w.line != nil {
		if err := w.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure coin pin: %w", err))
		}
		if err := w.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close coin pin: %w", err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func levelValue(high bool) int {
	if high {
		return 1
	}
	return 0
}
