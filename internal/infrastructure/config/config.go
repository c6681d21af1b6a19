package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic DMX bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Widget   WidgetConfig   `yaml:"widget"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WidgetConfig contains the DMX-TRI serial widget settings.
type WidgetConfig struct {
	// Device is the serial device path, e.g. "/dev/ttyUSB0".
	Device string `yaml:"device"`

	// BaudRate is the serial speed. Default: 115200
	BaudRate int `yaml:"baud_rate"`

	// ReadTimeoutMS bounds a single serial read, in milliseconds.
	// Default: 500
	ReadTimeoutMS int `yaml:"read_timeout_ms"`

	// StatusIntervalMS is the discovery status poll period, in milliseconds.
	// Default: 100
	StatusIntervalMS int `yaml:"status_interval_ms"`

	// DiscoverOnStart runs a full RDM discovery once the widget is open.
	// Default: true
	DiscoverOnStart bool `yaml:"discover_on_start"`

	// DiscoveryRefresh re-runs discovery every N seconds. 0 disables it.
	DiscoveryRefresh int `yaml:"discovery_refresh"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	// ID identifies the bridge in health and discovery messages.
	// Default: "dmx-tri"
	ID string `yaml:"id"`

	// HealthInterval is the health publish period in seconds. Default: 30
	HealthInterval int `yaml:"health_interval"`

	// RequestTimeout is how long an RDM request may wait, in seconds.
	// Default: 10
	RequestTimeout int `yaml:"request_timeout"`

	// DMXRefreshMS re-sends the merged output every N milliseconds.
	// 0 sends only on change.
	DMXRefreshMS int `yaml:"dmx_refresh_ms"`

	// SourceUID is the controller UID used in outgoing RDM requests.
	// Default: "7a70:00000001"
	SourceUID string `yaml:"source_uid"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_MQTT_HOST, GRAYLOGIC_WIDGET_DEVICE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-dmx",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Widget: WidgetConfig{
			Device:           "/dev/ttyUSB0",
			BaudRate:         115200,
			ReadTimeoutMS:    500,
			StatusIntervalMS: 100,
			DiscoverOnStart:  true,
		},
		Bridge: BridgeConfig{
			ID:             "dmx-tri",
			HealthInterval: 30,
			RequestTimeout: 10,
			SourceUID:      "7a70:00000001",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Widget
	if v := os.Getenv("GRAYLOGIC_WIDGET_DEVICE"); v != "" {
		cfg.Widget.Device = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Widget.Device == "" {
		errs = append(errs, "widget.device is required (set GRAYLOGIC_WIDGET_DEVICE environment variable)")
	}
	if c.Widget.BaudRate <= 0 {
		errs = append(errs, "widget.baud_rate must be positive")
	}
	if c.Widget.StatusIntervalMS <= 0 {
		errs = append(errs, "widget.status_interval_ms must be positive")
	}
	if c.Widget.DiscoveryRefresh < 0 {
		errs = append(errs, "widget.discovery_refresh must not be negative")
	}

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.RequestTimeout <= 0 {
		errs = append(errs, "bridge.request_timeout must be positive")
	}
	if c.Bridge.DMXRefreshMS < 0 {
		errs = append(errs, "bridge.dmx_refresh_ms must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the serial read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Widget.ReadTimeoutMS) * time.Millisecond
}

// GetStatusInterval returns the discovery poll period as a Duration.
func (c *Config) GetStatusInterval() time.Duration {
	return time.Duration(c.Widget.StatusIntervalMS) * time.Millisecond
}

// GetDiscoveryRefresh returns the discovery refresh period. Zero means off.
func (c *Config) GetDiscoveryRefresh() time.Duration {
	return time.Duration(c.Widget.DiscoveryRefresh) * time.Second
}

// GetHealthInterval returns the bridge health period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetRequestTimeout returns the RDM request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Bridge.RequestTimeout) * time.Second
}

// GetDMXRefresh returns the DMX refresh period. Zero means on change only.
func (c *Config) GetDMXRefresh() time.Duration {
	return time.Duration(c.Bridge.DMXRefreshMS) * time.Millisecond
}
