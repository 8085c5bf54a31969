package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/coin-relay/internal/status"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// Options configures a RealClient.
type Options struct {
	Broker   string
	ClientID string // empty derives "coin-relay-<uuid>"
	Topics   Topics

	// BufferSize bounds the offline buffer. Zero uses DefaultBufferSize.
	BufferSize int

	// OnConnectionChange, if set, is called on connect and connection loss.
	OnConnectionChange func(connected bool)
}

// RealClient publishes to and subscribes on an actual MQTT broker. Messages
// published while disconnected are buffered and replayed on reconnect.
type RealClient struct {
	client paho.Client
	topics Topics
	log    *zap.Logger
	onConn func(bool)

	mu   sync.Mutex
	buf  *ringBuffer
	subs map[string]func([]byte)
}

// NewRealClient creates a client and starts connecting to the broker. It does
// not fail when the broker is unreachable: paho keeps retrying in the
// background and publishes are buffered until the connection is up.
func NewRealClient(opts Options, log *zap.Logger) *RealClient {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ClientID == "" {
		opts.ClientID = "coin-relay-" + uuid.NewString()[:8]
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = DefaultTopics()
	}

	c := &RealClient{
		topics: opts.Topics,
		log:    log.Named("mqtt"),
		onConn: opts.OnConnectionChange,
		buf:    newRingBuffer(opts.BufferSize),
		subs:   make(map[string]func([]byte)),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		c.log.Warn("broker not reachable yet, retrying in background", zap.String("broker", opts.Broker))
	} else if err := token.Error(); err != nil {
		c.log.Warn("connect to broker", zap.String("broker", opts.Broker), zap.Error(err))
	}
	return c
}

func (c *RealClient) onConnect(client paho.Client) {
	c.log.Info("connected")

	c.mu.Lock()
	subs := make(map[string]func([]byte), len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	pending := c.buf.drainAll()
	c.mu.Unlock()

	for topic, h := range subs {
		c.subscribe(topic, h)
	}

	if len(pending) > 0 {
		c.log.Info("replaying buffered messages", zap.Int("count", len(pending)))
	}
	for _, m := range pending {
		client.Publish(m.topic, m.qos, m.retained, m.payload)
	}

	if c.onConn != nil {
		c.onConn(true)
	}
}

func (c *RealClient) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection lost", zap.Error(err))
	if c.onConn != nil {
		c.onConn(false)
	}
}

// publish sends the payload, or buffers it while the connection is down.
func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		dropped := c.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		if dropped {
			c.log.Warn("offline buffer full, dropping oldest")
		}
		return nil
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishStatus sends a status report on the status topic.
func (c *RealClient) PublishStatus(r status.Report) error {
	payload, err := FormatStatusPayload(r)
	if err != nil {
		return fmt.Errorf("format status payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return c.publish(c.topics.Status, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return c.publish(c.topics.System, 1, event.Retained, payload)
}

// Subscribe registers handler for topic. The subscription is restored on
// every reconnect.
func (c *RealClient) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *RealClient) subscribe(topic string, handler func([]byte)) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		c.log.Warn("subscribe", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Info("subscribed", zap.String("topic", topic))
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
