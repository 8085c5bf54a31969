package control

import "sync/atomic"

// CoinQueue hands coin edges from the line event handler to the run loop.
// Post does no I/O and never blocks.
type CoinQueue struct {
	pending atomic.Int64
	ready   chan struct{}
}

// NewCoinQueue creates an empty queue.
func NewCoinQueue() *CoinQueue {
	return &CoinQueue{ready: make(chan struct{}, 1)}
}

// Post records one coin event and wakes the run loop.
func (q *CoinQueue) Post() {
	q.pending.Add(1)
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after one or more Posts.
func (q *CoinQueue) Ready() <-chan struct{} {
	return q.ready
}

// Drain returns and clears the number of pending events.
func (q *CoinQueue) Drain() int {
	return int(q.pending.Swap(0))
}
