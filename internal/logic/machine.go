package logic

import "time"

// Machine holds the current state and proposes transitions under a policy.
// Proposals do not mutate the machine; the caller commits a transition once
// the output has been written.
type Machine struct {
	policy Policy
	window TimeWindow
	state  MachineState
}

// NewMachine creates a Machine restored to the given state.
func NewMachine(policy Policy, window TimeWindow, restored MachineState) *Machine {
	return &Machine{
		policy: policy,
		window: window,
		state:  restored,
	}
}

// Policy returns the active policy.
func (m *Machine) Policy() Policy {
	return m.policy
}

// State returns the committed state.
func (m *Machine) State() MachineState {
	return m.state
}

// Window returns the activation window.
func (m *Machine) Window() TimeWindow {
	return m.window
}

// SetWindow replaces the activation window. It takes effect on the next Tick.
func (m *Machine) SetWindow(w TimeWindow) {
	m.window = w
}

// Tick evaluates the schedule at now. It returns false when the policy is not
// scheduled or the machine is already in the wanted state, so unchanged ticks
// cause no I/O.
func (m *Machine) Tick(now time.Time) (Transition, bool) {
	if m.policy != PolicyScheduled {
		return Transition{}, false
	}
	want := m.window.Contains(ClockOf(now))
	if want == m.state.On {
		return Transition{}, false
	}
	to := m.state
	to.On = want
	to.LastUpdate = now
	return Transition{Time: now, Cause: CauseSchedule, From: m.state, To: to}, true
}

// Coin proposes the transition for one coin insertion: the counter grows by
// exactly one and the on/off bit flips.
func (m *Machine) Coin(now time.Time) Transition {
	to := m.state
	to.Counter++
	to.On = !m.state.On
	to.LastUpdate = now
	return Transition{Time: now, Cause: CauseCoin, From: m.state, To: to}
}

// Set proposes setting the on/off bit to an explicit value. The transition is
// returned even when the value is unchanged so the caller rewrites the output.
func (m *Machine) Set(on bool, now time.Time) Transition {
	to := m.state
	to.On = on
	to.LastUpdate = now
	return Transition{Time: now, Cause: CauseRemote, From: m.state, To: to}
}

// Commit makes t.To the current state.
func (m *Machine) Commit(t Transition) {
	m.state = t.To
}

// Touch updates LastUpdate without changing the logical state.
func (m *Machine) Touch(now time.Time) MachineState {
	m.state.LastUpdate = now
	return m.state
}
