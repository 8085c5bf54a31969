// Package logic contains the pure control rules for the coin-operated machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// Policy selects which transition rules drive the machine.
type Policy string

const (
	// PolicyScheduled turns the machine on exactly while the wall clock is inside the window.
	PolicyScheduled Policy = "scheduled"
	// PolicyCoin toggles the machine on every coin and lets remote callers set it.
	PolicyCoin Policy = "coin"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyScheduled, PolicyCoin:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown policy %q (want %q or %q)", s, PolicyScheduled, PolicyCoin)
}

// MachineState is the authoritative logical state of the machine.
type MachineState struct {
	// On is the logical output state, independent of signal polarity.
	On bool
	// Counter counts coin insertions. It only ever grows at runtime.
	Counter float64
	// LastUpdate is the wall-clock time of the last persisted write.
	LastUpdate time.Time
}

// DefaultState is used when no persisted state is available.
func DefaultState() MachineState {
	return MachineState{}
}

// Cause identifies what triggered a transition.
type Cause string

const (
	CauseSchedule Cause = "SCHEDULE"
	CauseCoin     Cause = "COIN"
	CauseRemote   Cause = "REMOTE"
)

// Transition is a proposed (or committed) change from one state to another.
type Transition struct {
	Time  time.Time
	Cause Cause
	From  MachineState
	To    MachineState
}

// Toggled reports whether the on/off bit differs between From and To.
func (t Transition) Toggled() bool {
	return t.From.On != t.To.On
}

// StateString renders the on/off bit the way logs and the status page show it.
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
