package logic

import (
	"fmt"
	"time"
)

// Clock is a time of day at minute granularity.
type Clock struct {
	Hour   int
	Minute int
}

// ClockOf truncates t to its hour and minute in t's location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// before reports c < o lexicographically on (hour, minute).
func (c Clock) before(o Clock) bool {
	return c.Hour < o.Hour || (c.Hour == o.Hour && c.Minute < o.Minute)
}

// TimeWindow is a daily interval which wraps past midnight when start > end.
type TimeWindow struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// Start returns the inclusive start of the window.
func (w TimeWindow) Start() Clock {
	return Clock{Hour: w.StartHour, Minute: w.StartMinute}
}

// End returns the inclusive end of the window.
func (w TimeWindow) End() Clock {
	return Clock{Hour: w.EndHour, Minute: w.EndMinute}
}

// Wraps reports whether the window crosses midnight.
func (w TimeWindow) Wraps() bool {
	return w.End().before(w.Start())
}

// Validate checks that all bounds are in their natural ranges.
func (w TimeWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("window hours out of range: %s-%s", w.Start(), w.End())
	}
	if w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59 {
		return fmt.Errorf("window minutes out of range: %s-%s", w.Start(), w.End())
	}
	return nil
}

func (w TimeWindow) String() string {
	return w.Start().String() + "-" + w.End().String()
}

// Contains reports whether now falls inside the window. Both ends are inclusive.
// start == end is a single-minute window.
func (w TimeWindow) Contains(now Clock) bool {
	start, end := w.Start(), w.End()
	afterStart := !now.before(start)
	beforeEnd := !end.before(now)
	if !w.Wraps() {
		return afterStart && beforeEnd
	}
	return afterStart || beforeEnd
}
