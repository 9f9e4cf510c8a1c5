package health

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	complete bool
	err      error
}

func (t *fakeToken) Wait() bool                     { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	token        *fakeToken
	connectToken *fakeToken
	published    []published
	disconnected bool
	quiesce      uint
}

func (p *fakePublisher) Connect() paho.Token {
	return p.connectToken
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	p.published = append(p.published, published{topic, qos, retained, payload.([]byte)})
	return p.token
}

func (p *fakePublisher) Disconnect(quiesce uint) {
	p.disconnected = true
	p.quiesce = quiesce
}

func TestFormatPayload(t *testing.T) {
	data, err := FormatPayload(testReading())
	if err != nil {
		t.Fatalf("FormatPayload failed: %v", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Health.Type != "pain" {
		t.Errorf("Type = %q, want pain", p.Health.Type)
	}
	if p.Health.Level != 3 {
		t.Errorf("Level = %v, want 3", p.Health.Level)
	}
	if p.Health.Timestamp != "2024-01-15T12:00:00Z" {
		t.Errorf("Timestamp = %q, want 2024-01-15T12:00:00Z", p.Health.Timestamp)
	}
	if p.Health.Peer != "0b7f6d7a-77a2-4d5e-8f0c-1e2d3c4b5a69" {
		t.Errorf("Peer = %q", p.Health.Peer)
	}
}

func TestMQTTSink_Record(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{complete: true}}
	sink := newMQTTSinkWithClient(MQTTConfig{QoS: 1}, pub)

	if err := sink.Record(context.Background(), testReading()); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	got := pub.published[0]
	if got.topic != DefaultTopic {
		t.Errorf("topic = %q, want %q", got.topic, DefaultTopic)
	}
	if got.qos != 1 {
		t.Errorf("qos = %d, want 1", got.qos)
	}
	if got.retained {
		t.Error("health readings must not be retained")
	}

	sink.Close()
	if !pub.disconnected {
		t.Error("Close did not disconnect")
	}
}

func TestMQTTSink_Errors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		pub := &fakePublisher{token: &fakeToken{complete: false}}
		sink := newMQTTSinkWithClient(MQTTConfig{Topic: "t"}, pub)

		err := sink.Record(context.Background(), testReading())
		if !errors.Is(err, ErrPublishTimeout) {
			t.Errorf("Record() error = %v, want ErrPublishTimeout", err)
		}
	})

	t.Run("broker error", func(t *testing.T) {
		errRefused := errors.New("not authorized")
		pub := &fakePublisher{token: &fakeToken{complete: true, err: errRefused}}
		sink := newMQTTSinkWithClient(MQTTConfig{Topic: "t"}, pub)

		err := sink.Record(context.Background(), testReading())
		if !errors.Is(err, errRefused) {
			t.Errorf("Record() error = %v, want wrapped broker error", err)
		}
	})
}

func TestConnectMQTT(t *testing.T) {
	cfg := withMQTTDefaults(MQTTConfig{Broker: "tcp://broker:1883"})

	t.Run("connected", func(t *testing.T) {
		pub := &fakePublisher{connectToken: &fakeToken{complete: true}}
		sink, err := connectMQTT(cfg, pub)
		if err != nil {
			t.Fatalf("connectMQTT failed: %v", err)
		}
		if sink == nil || pub.disconnected {
			t.Error("connected client should be kept")
		}
	})

	t.Run("timeout stops retries", func(t *testing.T) {
		pub := &fakePublisher{connectToken: &fakeToken{complete: false}}
		_, err := connectMQTT(cfg, pub)
		if !errors.Is(err, ErrConnectTimeout) {
			t.Errorf("error = %v, want ErrConnectTimeout", err)
		}
		if errors.Is(err, ErrPublishTimeout) {
			t.Error("connect timeout should not report ErrPublishTimeout")
		}
		if !pub.disconnected || pub.quiesce != 0 {
			t.Errorf("disconnected = %v quiesce = %d, want true 0", pub.disconnected, pub.quiesce)
		}
	})

	t.Run("refused", func(t *testing.T) {
		errRefused := errors.New("bad user name or password")
		pub := &fakePublisher{connectToken: &fakeToken{complete: true, err: errRefused}}
		_, err := connectMQTT(cfg, pub)
		if !errors.Is(err, errRefused) {
			t.Errorf("error = %v, want wrapped broker error", err)
		}
		if !pub.disconnected {
			t.Error("client should be disconnected after a refused connect")
		}
	})
}
