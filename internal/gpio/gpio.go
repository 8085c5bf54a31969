// Package gpio provides the relay output line and the coin input line.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"time"

	"github.com/sweeney/coin-relay/internal/logic"
)

// DefaultChip is the GPIO chip holding the pins below.
const DefaultChip = "gpiochip0"

// Pin definitions (BCM numbering)
const (
	DefaultPinRelay = 17 // Relay coil driver
	DefaultPinCoin  = 27 // Coin acceptor pulse output, active low
)

// CoinSource delivers coin insertion edges until closed.
type CoinSource interface {
	Close() error
}

// coinEdges filters falling edges through a software debouncer and forwards
// accepted ones. It runs on the edge-event goroutine, so it must stay cheap:
// no I/O, no locks, just the debounce check and the post.
type coinEdges struct {
	debounce *logic.Debouncer
	post     func()
	now      func() time.Time
}

func newCoinEdges(debounce time.Duration, post func(), now func() time.Time) *coinEdges {
	if now == nil {
		now = time.Now
	}
	return &coinEdges{
		debounce: logic.NewDebouncer(debounce),
		post:     post,
		now:      now,
	}
}

func (c *coinEdges) falling() bool {
	if !c.debounce.Accept(c.now()) {
		return false
	}
	c.post()
	return true
}
