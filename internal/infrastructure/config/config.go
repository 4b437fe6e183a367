package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the BESTIN bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Buses    BusesConfig    `yaml:"buses"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// BusesConfig describes the two wall-pad bus connections.
type BusesConfig struct {
	Control BusConfig `yaml:"control"`
	Energy  BusConfig `yaml:"energy"`
}

// BusConfig describes one bus connection.
//
// The gateway generation and layout variant are never auto-detected:
// different wall-pad generations emit overlapping packet shapes, so
// guessing risks decoding garbage. Both must be configured explicitly.
type BusConfig struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is either a TCP address of an RS485 bridge
	// ("192.168.0.27" or "192.168.0.27:8899") or a local serial device
	// path ("/dev/ttyUSB0").
	Endpoint string `yaml:"endpoint"`

	// BaudRate applies to serial endpoints. Energy buses on newer
	// gateways run at 38400 rather than the default 9600.
	BaudRate int `yaml:"baud_rate"`

	// Generation is the gateway generation: "1.0" or "2.0".
	Generation string `yaml:"generation"`

	// Variant is the packet-layout variant: "default", "aio" or
	// "dimming".
	Variant string `yaml:"variant"`

	// RoomVentilation selects the length-framed ventilation command
	// layout used by newer wall-pads.
	RoomVentilation bool `yaml:"room_ventilation"`

	// BatchSwitchHeader is the header byte of the installed batch
	// switch (0x15, 0x17 or 0xC1). Zero selects 0xC1.
	BatchSwitchHeader int `yaml:"batch_switch_header"`

	// CommandTimeout is how long to wait for a command ack, in seconds.
	CommandTimeout int `yaml:"command_timeout"`

	// MaxFrameLength bounds declared frame lengths before the reader
	// resynchronizes.
	MaxFrameLength int `yaml:"max_frame_length"`

	// PollInterval is how often to query device status, in seconds.
	// Zero disables polling. Control bus only.
	PollInterval int `yaml:"poll_interval"`

	// Rooms lists the room numbers to poll for light/outlet/thermostat
	// status.
	Rooms []int `yaml:"rooms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	BaseTopic string              `yaml:"base_topic"`
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

// InfluxDBConfig contains InfluxDB connection settings for energy
// telemetry.
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

// Allowed values for BusConfig.Generation and BusConfig.Variant.
var (
	validGenerations = []string{"1.0", "2.0"}
	validVariants    = []string{"default", "aio", "dimming"}
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BESTIN_SECTION_KEY
// For example: BESTIN_DATABASE_PATH, BESTIN_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
			ID:       "bestin-001",
			Name:     "BESTIN Bridge",
			Timezone: "Asia/Seoul",
		},
		Buses: BusesConfig{
			Control: BusConfig{
				Enabled:        true,
				BaudRate:       9600,
				Generation:     "1.0",
				Variant:        "default",
				CommandTimeout: 2,
				MaxFrameLength: 128,
				PollInterval:   30,
				Rooms:          []int{0, 1},
			},
			Energy: BusConfig{
				Enabled:        false,
				BaudRate:       9600,
				Generation:     "1.0",
				Variant:        "default",
				CommandTimeout: 2,
				MaxFrameLength: 128,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/bestin.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bestin-bridge",
			},
			QoS:       1,
			BaseTopic: "bestin",
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BESTIN_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Buses
	if v := os.Getenv("BESTIN_CONTROL_ENDPOINT"); v != "" {
		cfg.Buses.Control.Endpoint = v
	}
	if v := os.Getenv("BESTIN_ENERGY_ENDPOINT"); v != "" {
		cfg.Buses.Energy.Endpoint = v
		cfg.Buses.Energy.Enabled = true
	}

	// Database
	if v := os.Getenv("BESTIN_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BESTIN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BESTIN_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BESTIN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BESTIN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BESTIN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
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

	// The control bus carries all command traffic; the bridge cannot
	// run without it. The energy bus alone is not a valid setup.
	if !c.Buses.Control.Enabled {
		errs = append(errs, "buses.control must be enabled")
	}
	errs = append(errs, c.Buses.Control.validate("buses.control")...)
	errs = append(errs, c.Buses.Energy.validate("buses.energy")...)

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validate checks one bus section, returning error strings prefixed
// with the section path.
func (b BusConfig) validate(section string) []string {
	if !b.Enabled {
		return nil
	}

	var errs []string
	if b.Endpoint == "" {
		errs = append(errs, section+".endpoint is required")
	}
	if !contains(validGenerations, b.Generation) {
		errs = append(errs, section+".generation must be one of: "+strings.Join(validGenerations, ", "))
	}
	if !contains(validVariants, b.Variant) {
		errs = append(errs, section+".variant must be one of: "+strings.Join(validVariants, ", "))
	}
	if b.BatchSwitchHeader != 0 && b.BatchSwitchHeader != 0x15 &&
		b.BatchSwitchHeader != 0x17 && b.BatchSwitchHeader != 0xC1 {
		errs = append(errs, section+".batch_switch_header must be 0x15, 0x17 or 0xC1")
	}
	if b.CommandTimeout < 0 {
		errs = append(errs, section+".command_timeout must not be negative")
	}
	for _, room := range b.Rooms {
		if room < 0 || room > 15 {
			errs = append(errs, section+".rooms entries must be between 0 and 15")
			break
		}
	}
	return errs
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// GetCommandTimeout returns the bus command timeout as a Duration.
func (b BusConfig) GetCommandTimeout() time.Duration {
	return time.Duration(b.CommandTimeout) * time.Second
}

// GetPollInterval returns the bus poll interval as a Duration.
func (b BusConfig) GetPollInterval() time.Duration {
	return time.Duration(b.PollInterval) * time.Second
}
