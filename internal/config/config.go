package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the process-level configuration. Per-run parameters (message
// count, rate, payload size, topic) arrive with each StartRun request; this
// holds everything that outlives a run.
type Config struct {
	Kafka    KafkaConfig   `mapstructure:"kafka"`
	Server   ServerConfig  `mapstructure:"server"`
	Load     LoadConfig    `mapstructure:"load"`
	Tracing  TracingConfig `mapstructure:"tracing"`
	LogLevel string        `mapstructure:"log_level"`

	ConfigFile string `mapstructure:"-"`
}

// KafkaConfig controls the producer clients.
type KafkaConfig struct {
	BootstrapServers []string      `mapstructure:"bootstrap_servers"`
	DefaultTopic     string        `mapstructure:"default_topic"`
	Compression      string        `mapstructure:"compression"` // none, gzip, snappy, lz4, zstd
	Acks             string        `mapstructure:"acks"`        // none, leader, all
	Linger           time.Duration `mapstructure:"linger"`
	MaxMessageBytes  int           `mapstructure:"max_message_bytes"`

	// DeliveryTimeout bounds how long a record may sit in the producer,
	// retries included, before its send fails. Keeps an unreachable broker
	// from stalling sends past the run's stop grace.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig controls the engine.
type LoadConfig struct {
	PoolSize         int           `mapstructure:"pool_size"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	DrainGrace       time.Duration `mapstructure:"drain_grace"`
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ValidationError aggregates configuration problems.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "configuration invalid"
	}
	return fmt.Sprintf("configuration invalid: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

var validCompressions = map[string]bool{
	"none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true,
}

var validAcks = map[string]bool{
	"none": true, "leader": true, "all": true,
}

func (c Config) Validate() error {
	var issues []string

	if len(c.Kafka.BootstrapServers) == 0 {
		issues = append(issues, "kafka.bootstrap_servers is required")
	}
	for _, b := range c.Kafka.BootstrapServers {
		if strings.TrimSpace(b) == "" {
			issues = append(issues, "kafka.bootstrap_servers entries must be non-empty")
			break
		}
	}
	if !validCompressions[c.Kafka.Compression] {
		issues = append(issues, fmt.Sprintf("kafka.compression %q is not one of none, gzip, snappy, lz4, zstd", c.Kafka.Compression))
	}
	if !validAcks[c.Kafka.Acks] {
		issues = append(issues, fmt.Sprintf("kafka.acks %q is not one of none, leader, all", c.Kafka.Acks))
	}
	if c.Kafka.Linger < 0 {
		issues = append(issues, "kafka.linger must be >= 0")
	}
	if c.Kafka.MaxMessageBytes < 1 {
		issues = append(issues, "kafka.max_message_bytes must be >= 1")
	}
	if c.Kafka.DeliveryTimeout <= 0 {
		issues = append(issues, "kafka.delivery_timeout must be > 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 1 and 65535")
	}

	if c.Load.PoolSize < 1 {
		issues = append(issues, "load.pool_size must be >= 1")
	}
	if c.Load.SnapshotInterval <= 0 {
		issues = append(issues, "load.snapshot_interval must be > 0")
	}
	if c.Load.DrainGrace <= 0 {
		issues = append(issues, "load.drain_grace must be > 0")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.Tracing.Enabled() {
		switch strings.ToLower(c.Tracing.Protocol) {
		case "grpc", "http":
		default:
			issues = append(issues, fmt.Sprintf("tracing.protocol %q is not one of grpc, http", c.Tracing.Protocol))
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
		}
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
