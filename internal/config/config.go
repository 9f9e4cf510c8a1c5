package config

import "time"

// Config is the root configuration shared by the relay and bridge binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Connections ConnectionsConfig `yaml:"connections"`
	State       StateConfig       `yaml:"state"`
	Health      HealthConfig      `yaml:"health"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds the relay's HTTP settings.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	WSPath           string        `yaml:"ws_path"`
	HealthPath       string        `yaml:"health_path"`
	StatsPath        string        `yaml:"stats_path"` // Empty disables the stats endpoint
	NetworkStatus    string        `yaml:"network_status"`
	EncryptionStatus string        `yaml:"encryption_status"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// ConnectionsConfig holds per-viewer connection settings.
type ConnectionsConfig struct {
	SendBufferSize int           `yaml:"send_buffer_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// StateConfig holds State Store settings.
type StateConfig struct {
	LogCapacity  int `yaml:"log_capacity"`
	SnapshotLogs int `yaml:"snapshot_logs"`
}

// HealthConfig selects where health_update readings go.
type HealthConfig struct {
	Sinks         []string      `yaml:"sinks"` // any of: log, mqtt, postgres
	MQTT          MQTTConfig    `yaml:"mqtt"`
	Postgres      DBConfig      `yaml:"postgres"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RecordTimeout time.Duration `yaml:"record_timeout"` // Per-reading bound on sink calls
}

// MQTTConfig holds the MQTT health sink settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BridgeConfig holds the upstream producer settings.
type BridgeConfig struct {
	URL                string        `yaml:"url"`
	MetricsInterval    time.Duration `yaml:"metrics_interval"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Sink names accepted in health.sinks.
const (
	SinkLog      = "log"
	SinkMQTT     = "mqtt"
	SinkPostgres = "postgres"
)

// HasSink reports whether name is listed in health.sinks.
func (h HealthConfig) HasSink(name string) bool {
	for _, s := range h.Sinks {
		if s == name {
			return true
		}
	}
	return false
}
