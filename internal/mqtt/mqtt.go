// Package mqtt publishes machine status and lifecycle events and receives
// remote control messages, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/coin-relay/internal/status"
)

// Default topics.
const (
	DefaultStatusTopic  = "coin-relay/status"
	DefaultControlTopic = "coin-relay/rpc"
	DefaultSystemTopic  = "coin-relay/system"
)

// Topics names the topics used by a client.
type Topics struct {
	Status  string
	Control string
	System  string
}

// DefaultTopics returns the default topic set.
func DefaultTopics() Topics {
	return Topics{
		Status:  DefaultStatusTopic,
		Control: DefaultControlTopic,
		System:  DefaultSystemTopic,
	}
}

// Publisher publishes status reports and lifecycle events.
type Publisher interface {
	// PublishStatus sends a machine status report.
	// Returns error if publishing fails (should not crash the process).
	PublishStatus(r status.Report) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers messages received on a topic.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// FormatStatusPayload creates the JSON payload for a status report.
func FormatStatusPayload(r status.Report) ([]byte, error) {
	return status.FormatReport(r)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
