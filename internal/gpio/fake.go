package gpio

import "time"

// FakeCoinInput is a test double for the coin line. Edge simulates a falling
// edge at the given time and runs it through the same debounce filter as the
// real watcher.
type FakeCoinInput struct {
	edges *coinEdges
	at    time.Time

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeCoinInput creates a FakeCoinInput forwarding accepted edges to post.
func NewFakeCoinInput(debounce time.Duration, post func()) *FakeCoinInput {
	f := &FakeCoinInput{}
	f.edges = newCoinEdges(debounce, post, func() time.Time { return f.at })
	return f
}

// Edge simulates a falling edge at t. It reports whether the edge was accepted.
func (f *FakeCoinInput) Edge(t time.Time) bool {
	f.at = t
	return f.edges.falling()
}

// Close marks the input as closed.
func (f *FakeCoinInput) Close() error {
	f.Closed = true
	return nil
}
