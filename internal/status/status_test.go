package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/coin-relay/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Policy: logic.PolicyCoin, CheckIntervalMs: 1000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.CheckIntervalMs != 1000 {
		t.Errorf("Config.CheckIntervalMs: got %d, want 1000", snap.Config.CheckIntervalMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Transitions != 0 {
		t.Errorf("Transitions: got %d, want 0", snap.Transitions)
	}
}

func TestUpdateAndRecord(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	w := logic.TimeWindow{StartHour: 22, EndHour: 6}

	tr.Update(logic.MachineState{On: false, Counter: 4}, w)
	tr.Record(logic.Transition{
		Cause: logic.CauseCoin,
		From:  logic.MachineState{Counter: 4},
		To:    logic.MachineState{On: true, Counter: 5},
	})

	snap := tr.Snapshot()
	if !snap.State.On || snap.State.Counter != 5 {
		t.Errorf("State: got %+v, want on with counter 5", snap.State)
	}
	if snap.LastCause != logic.CauseCoin {
		t.Errorf("LastCause: got %q, want COIN", snap.LastCause)
	}
	if snap.Transitions != 1 {
		t.Errorf("Transitions: got %d, want 1", snap.Transitions)
	}
	if snap.Window != w {
		t.Errorf("Window: got %v, want %v", snap.Window, w)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(logic.MachineState{Counter: 1}, logic.TimeWindow{})

	snap := tr.Snapshot()
	tr.Update(logic.MachineState{Counter: 2}, logic.TimeWindow{})

	if snap.State.Counter != 1 {
		t.Errorf("snapshot mutated: got %v, want 1", snap.State.Counter)
	}
}

func TestUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{})
	tr.now = func() time.Time { return start.Add(90 * time.Second) }

	if got := tr.Snapshot().Uptime(); got != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			tr.Update(logic.MachineState{Counter: float64(n)}, logic.TimeWindow{})
		}(i)
		go func() {
			defer wg.Done()
			tr.SetMQTTConnected(true)
		}()
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
}

func TestNewReport(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	r := NewReport(logic.MachineState{On: true, Counter: 12}, now)

	data, err := FormatReport(r)
	if err != nil {
		t.Fatalf("FormatReport: %v", err)
	}
	want := `{"total":12,"machine_on":true,"time":"2026-03-04 05:06:07"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{Policy: logic.PolicyScheduled, Broker: "tcp://b:1883"})
	tr.now = func() time.Time { return start.Add(time.Minute) }
	tr.Update(logic.MachineState{On: true, Counter: 3, LastUpdate: start}, logic.TimeWindow{StartHour: 22, EndHour: 6})
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "10.0.0.2"})

	var got StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s := got.Status
	if s.Event != "" || s.Reason != "" {
		t.Errorf("web JSON should not carry event/reason: %+v", s)
	}
	if s.Machine != "ON" {
		t.Errorf("Machine: got %q, want ON", s.Machine)
	}
	if s.Total != 3 {
		t.Errorf("Total: got %v, want 3", s.Total)
	}
	if s.LastUpdate != "2026-01-01 00:00:00" {
		t.Errorf("LastUpdate: got %q", s.LastUpdate)
	}
	if s.UptimeSeconds != 60 {
		t.Errorf("UptimeSeconds: got %d, want 60", s.UptimeSeconds)
	}
	if s.Config.Policy != "scheduled" {
		t.Errorf("Config.Policy: got %q", s.Config.Policy)
	}
	if s.Network == nil || s.Network.IP != "10.0.0.2" {
		t.Errorf("Network: got %+v", s.Network)
	}
	if s.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("MQTT.Broker: got %q", s.MQTT.Broker)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var got StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM"), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status.Event != "SHUTDOWN" || got.Status.Reason != "SIGTERM" {
		t.Errorf("got event=%q reason=%q", got.Status.Event, got.Status.Reason)
	}
	if got.Status.Network != nil {
		t.Error("expected no network block")
	}
}
