package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr               = ":5000"
	DefaultWSPath             = "/ws"
	DefaultHealthPath         = "/api/health"
	DefaultStatsPath          = "/debug/stats"
	DefaultNetworkStatus      = "Connected"
	DefaultEncryptionStatus   = "AES-256"
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultSendBufferSize     = 256
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPongWait           = 60 * time.Second
	DefaultMaxMessageSize     = 1 << 20
	DefaultLogCapacity        = 50
	DefaultSnapshotLogs       = 8
	DefaultMQTTTopic          = "hud/health"
	DefaultMQTTClientID       = "hud-relay"
	DefaultPublishTimeout     = 5 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 5 * time.Second
	DefaultRecordTimeout      = 1 * time.Second
	DefaultBridgeURL          = "ws://localhost:5000/ws"
	DefaultMetricsInterval    = 500 * time.Millisecond
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultBridgeIdleTimeout  = 75 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.HealthPath == "" {
		c.Server.HealthPath = DefaultHealthPath
	}
	if c.Server.StatsPath == "" {
		c.Server.StatsPath = DefaultStatsPath
	}
	if c.Server.NetworkStatus == "" {
		c.Server.NetworkStatus = DefaultNetworkStatus
	}
	if c.Server.EncryptionStatus == "" {
		c.Server.EncryptionStatus = DefaultEncryptionStatus
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Connections defaults
	if c.Connections.SendBufferSize == 0 {
		c.Connections.SendBufferSize = DefaultSendBufferSize
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PongWait == 0 {
		c.Connections.PongWait = DefaultPongWait
	}
	if c.Connections.MaxMessageSize == 0 {
		c.Connections.MaxMessageSize = DefaultMaxMessageSize
	}

	// State defaults
	if c.State.LogCapacity == 0 {
		c.State.LogCapacity = DefaultLogCapacity
	}
	if c.State.SnapshotLogs == 0 {
		c.State.SnapshotLogs = DefaultSnapshotLogs
	}

	// Health defaults
	if c.Health.Sinks == nil {
		c.Health.Sinks = []string{SinkLog}
	}
	if c.Health.MQTT.Topic == "" {
		c.Health.MQTT.Topic = DefaultMQTTTopic
	}
	if c.Health.MQTT.ClientID == "" {
		c.Health.MQTT.ClientID = DefaultMQTTClientID
	}
	if c.Health.MQTT.PublishTimeout == 0 {
		c.Health.MQTT.PublishTimeout = DefaultPublishTimeout
	}
	if c.Health.MQTT.ConnectTimeout == 0 {
		c.Health.MQTT.ConnectTimeout = DefaultConnectTimeout
	}
	applyDBDefaults(&c.Health.Postgres)
	if c.Health.BatchSize == 0 {
		c.Health.BatchSize = DefaultBatchSize
	}
	if c.Health.FlushInterval == 0 {
		c.Health.FlushInterval = DefaultFlushInterval
	}
	if c.Health.RecordTimeout == 0 {
		c.Health.RecordTimeout = DefaultRecordTimeout
	}

	// Bridge defaults
	if c.Bridge.URL == "" {
		c.Bridge.URL = DefaultBridgeURL
	}
	if c.Bridge.MetricsInterval == 0 {
		c.Bridge.MetricsInterval = DefaultMetricsInterval
	}
	if c.Bridge.ReconnectBaseDelay == 0 {
		c.Bridge.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Bridge.ReconnectMaxDelay == 0 {
		c.Bridge.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Bridge.IdleTimeout == 0 {
		c.Bridge.IdleTimeout = DefaultBridgeIdleTimeout
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
