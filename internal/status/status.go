// Package status provides a thread-safe status tracker for the coin-relay daemon.
// It is read by HTTP handlers and the lifecycle events published on MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/coin-relay/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Policy           logic.Policy
	ActiveLow        bool
	CheckIntervalMs  int64
	ReportIntervalMs int64
	DebounceMs       int64
	Broker           string
	HTTPAddr         string
	StateFile        string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	State         logic.MachineState
	Window        logic.TimeWindow
	LastCause     logic.Cause
	Transitions   int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets the machine state and window.
func (t *Tracker) Update(state logic.MachineState, window logic.TimeWindow) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Window = window
	t.mu.Unlock()
}

// Record notes a committed transition.
func (t *Tracker) Record(tr logic.Transition) {
	t.mu.Lock()
	t.snap.State = tr.To
	t.snap.LastCause = tr.Cause
	t.snap.Transitions++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
