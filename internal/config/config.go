// Package config loads and validates migration progress configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Analytics transports accepted in telemetry.transports.
const (
	TransportLog    = "log"
	TransportPubSub = "pubsub"
	TransportSpan   = "span"
	TransportMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Display    DisplayConfig    `mapstructure:"display"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Simulation SimulationConfig `mapstructure:"simulation"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// ProcessorConfig tunes the event processor.
type ProcessorConfig struct {
	ObserverTimeout time.Duration `mapstructure:"observer_timeout"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout"`
}

// DisplayConfig controls the terminal progress panel.
type DisplayConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// TelemetryConfig selects where analytics records are shipped.
type TelemetryConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Transports []string `mapstructure:"transports"`
	Topic      string   `mapstructure:"topic"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// PubSubConfig holds the Google Cloud Pub/Sub project used for analytics.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// DatabaseConfig controls the run history store. An empty DSN keeps history
// in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ApplySchema     bool          `mapstructure:"apply_schema"`
}

// SimulationConfig drives the mock migration workload.
type SimulationConfig struct {
	PreviousVersion string        `mapstructure:"previous_version"`
	CurrentVersion  string        `mapstructure:"current_version"`
	Seed            int64         `mapstructure:"seed"`
	MaxRecords      int           `mapstructure:"max_records"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIGRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("processor.observer_timeout", "5s")
	v.SetDefault("processor.close_timeout", "30s")
	v.SetDefault("display.enabled", true)
	v.SetDefault("display.refresh_interval", "100ms")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.transports", []string{TransportLog})
	v.SetDefault("telemetry.topic", "migration-analytics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "migration-progress")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.apply_schema", true)
	v.SetDefault("simulation.previous_version", "2.7.2")
	v.SetDefault("simulation.current_version", "2.7.8")
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("simulation.max_records", 20)
	v.SetDefault("simulation.max_delay", "100ms")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Processor.ObserverTimeout <= 0 {
		return fmt.Errorf("processor.observer_timeout must be > 0")
	}
	if c.Display.RefreshInterval < 0 {
		return fmt.Errorf("display.refresh_interval must be >= 0")
	}
	if c.Telemetry.Enabled {
		for _, transport := range c.Telemetry.Transports {
			switch transport {
			case TransportLog, TransportSpan, TransportMemory:
			case TransportPubSub:
				if c.PubSub.ProjectID == "" {
					return fmt.Errorf("pubsub.project_id must be set when the pubsub transport is enabled")
				}
				if c.Telemetry.Topic == "" {
					return fmt.Errorf("telemetry.topic must be set when the pubsub transport is enabled")
				}
			default:
				return fmt.Errorf("telemetry.transports: unknown transport %q", transport)
			}
		}
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	if c.Database.DSN != "" && c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be > 0 when a dsn is set")
	}
	if c.Simulation.MaxRecords <= 0 {
		return fmt.Errorf("simulation.max_records must be > 0")
	}
	if c.Simulation.MaxDelay < 0 {
		return fmt.Errorf("simulation.max_delay must be >= 0")
	}
	return nil
}

// HasTransport reports whether analytics records go to the named transport.
func (c TelemetryConfig) HasTransport(name string) bool {
	if !c.Enabled {
		return false
	}
	for _, t := range c.Transports {
		if t == name {
			return true
		}
	}
	return false
}
