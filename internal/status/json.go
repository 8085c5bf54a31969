package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/coin-relay/internal/logic"
)

// ReportTimeLayout is the timestamp format of outward status reports.
const ReportTimeLayout = "2006-01-02 15:04:05"

// Report is the status message published on every transition and on the
// report period.
type Report struct {
	Total     float64 `json:"total"`
	MachineOn bool    `json:"machine_on"`
	Time      string  `json:"time"`
}

// NewReport builds a report for s at now.
func NewReport(s logic.MachineState, now time.Time) Report {
	return Report{
		Total:     s.Counter,
		MachineOn: s.On,
		Time:      now.Format(ReportTimeLayout),
	}
}

// FormatReport returns the JSON payload of a report.
func FormatReport(r Report) ([]byte, error) {
	return json.Marshal(r)
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Machine       string       `json:"machine"`
	Total         float64      `json:"total"`
	LastUpdate    string       `json:"last_update,omitempty"`
	LastCause     string       `json:"last_cause,omitempty"`
	Transitions   int          `json:"transitions"`
	Window        string       `json:"window"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Policy           string `json:"policy"`
	ActiveLow        bool   `json:"relay_active_low"`
	CheckIntervalMs  int64  `json:"check_interval_ms"`
	ReportIntervalMs int64  `json:"report_interval_ms"`
	DebounceMs       int64  `json:"debounce_ms"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
	StateFile        string `json:"state_file"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Machine:       logic.StateString(snap.State.On),
		Total:         snap.State.Counter,
		LastCause:     string(snap.LastCause),
		Transitions:   snap.Transitions,
		Window:        snap.Window.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Policy:           string(snap.Config.Policy),
			ActiveLow:        snap.Config.ActiveLow,
			CheckIntervalMs:  snap.Config.CheckIntervalMs,
			ReportIntervalMs: snap.Config.ReportIntervalMs,
			DebounceMs:       snap.Config.DebounceMs,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
			StateFile:        snap.Config.StateFile,
		},
	}
	if !snap.State.LastUpdate.IsZero() {
		inner.LastUpdate = snap.State.LastUpdate.Format(ReportTimeLayout)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
