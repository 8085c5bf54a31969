package logic

import "time"

// Debouncer suppresses edges that arrive too soon after the last accepted edge.
// Not safe for concurrent use; the edge source calls it from a single goroutine.
type Debouncer struct {
	period   time.Duration
	last     time.Time
	accepted bool
}

// NewDebouncer creates a Debouncer. A period <= 0 accepts every edge.
func NewDebouncer(period time.Duration) *Debouncer {
	return &Debouncer{period: period}
}

// Accept reports whether an edge at t is a new event rather than bounce.
func (d *Debouncer) Accept(t time.Time) bool {
	if d.accepted && t.Sub(d.last) < d.period {
		return false
	}
	d.last = t
	d.accepted = true
	return true
}
