package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopic is the MQTT topic for health readings.
const DefaultTopic = "hud/health"

// Errors
var (
	// ErrPublishTimeout is returned when the broker does not acknowledge in time.
	ErrPublishTimeout = errors.New("publish timeout")

	// ErrConnectTimeout is returned when the initial broker connection does
	// not complete in time.
	ErrConnectTimeout = errors.New("connect timeout")
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker         string        // e.g. tcp://localhost:1883
	Topic          string        // Default: hud/health
	ClientID       string        // Default: hud-relay
	QoS            byte          // 0, 1 or 2
	PublishTimeout time.Duration // Default: 5s
	ConnectTimeout time.Duration // Default: 10s
}

// publisher is the subset of paho.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// connector is a publisher that still has to connect.
type connector interface {
	publisher
	Connect() paho.Token
}

// MQTTSink publishes readings to an MQTT broker.
type MQTTSink struct {
	cfg    MQTTConfig
	client publisher
}

// Payload is the MQTT message body for a reading.
type Payload struct {
	Health HealthPayload `json:"health"`
}

// HealthPayload contains the reading details.
type HealthPayload struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Level     float64 `json:"level"`
	Peer      string  `json:"peer"`
	Timestamp string  `json:"timestamp"`
}

// FormatPayload creates the JSON payload for a reading.
func FormatPayload(r Reading) ([]byte, error) {
	return json.Marshal(Payload{
		Health: HealthPayload{
			ID:        r.ID.String(),
			Type:      r.Metric,
			Level:     r.Level,
			Peer:      r.PeerID.String(),
			Timestamp: r.ReceivedAt.UTC().Format(time.RFC3339),
		},
	})
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	cfg = withMQTTDefaults(cfg)

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	return connectMQTT(cfg, paho.NewClient(opts))
}

// connectMQTT waits for the first connection. On failure the client is
// disconnected so connect retries stop.
func connectMQTT(cfg MQTTConfig, client connector) (*MQTTSink, error) {
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}

	return &MQTTSink{cfg: cfg, client: client}, nil
}

func newMQTTSinkWithClient(cfg MQTTConfig, client publisher) *MQTTSink {
	return &MQTTSink{cfg: withMQTTDefaults(cfg), client: client}
}

func withMQTTDefaults(cfg MQTTConfig) MQTTConfig {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "hud-relay"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return cfg
}

// Record publishes the reading, not retained.
func (s *MQTTSink) Record(ctx context.Context, r Reading) error {
	payload, err := FormatPayload(r)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)

	timeout := s.cfg.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(1000)
	return nil
}
