package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if !strings.HasPrefix(c.Server.HealthPath, "/") {
		return fmt.Errorf("server.health_path must start with /, got %q", c.Server.HealthPath)
	}

	if c.Connections.SendBufferSize < 1 {
		return errors.New("connections.send_buffer_size must be >= 1")
	}
	if c.Connections.MaxMessageSize < 1 {
		return errors.New("connections.max_message_size must be >= 1")
	}
	if c.Connections.PongWait > 0 && c.Connections.PingInterval >= c.Connections.PongWait {
		return fmt.Errorf("connections.ping_interval (%s) must be less than pong_wait (%s)",
			c.Connections.PingInterval, c.Connections.PongWait)
	}

	if c.State.LogCapacity < 1 {
		return errors.New("state.log_capacity must be >= 1")
	}
	if c.State.SnapshotLogs < 1 {
		return errors.New("state.snapshot_logs must be >= 1")
	}

	if err := c.Health.validate(); err != nil {
		return err
	}

	if c.Bridge.URL == "" {
		return errors.New("bridge.url is required")
	}
	if c.Bridge.ReconnectBaseDelay > c.Bridge.ReconnectMaxDelay {
		return fmt.Errorf("bridge.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Bridge.ReconnectBaseDelay, c.Bridge.ReconnectMaxDelay)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (h *HealthConfig) validate() error {
	for _, s := range h.Sinks {
		switch s {
		case SinkLog, SinkMQTT, SinkPostgres:
		default:
			return fmt.Errorf("health.sinks: unknown sink %q", s)
		}
	}

	if h.HasSink(SinkMQTT) {
		if h.MQTT.Broker == "" {
			return errors.New("health.mqtt.broker is required")
		}
		if h.MQTT.QoS > 2 {
			return fmt.Errorf("health.mqtt.qos must be 0, 1 or 2, got %d", h.MQTT.QoS)
		}
	}

	if h.HasSink(SinkPostgres) {
		if err := h.Postgres.validate("health.postgres"); err != nil {
			return err
		}
		if h.BatchSize < 1 {
			return errors.New("health.batch_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
