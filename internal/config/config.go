// Package config provides configuration loading and validation for Palisade.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a Palisade node.
type Config struct {
	ClusterID     string              `yaml:"clusterId" env:"PALISADE_CLUSTER_ID"`
	Broker        BrokerConfig        `yaml:"broker"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Isolation     IsolationConfig     `yaml:"isolation"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BrokerConfig configures this node's broker registration.
type BrokerConfig struct {
	// BrokerID is the unique broker identifier. Empty means auto-generate.
	BrokerID string `yaml:"brokerId" env:"PALISADE_BROKER_ID"`

	// Address is the host:port matched against isolation policy patterns.
	Address string `yaml:"address" env:"PALISADE_BROKER_ADDRESS"`

	// HeartbeatIntervalMs is how often the registration is refreshed.
	HeartbeatIntervalMs int64 `yaml:"heartbeatIntervalMs" env:"PALISADE_HEARTBEAT_INTERVAL_MS"`

	// MaxRequestRate is the admin request rate (requests/second) at which
	// this broker reports a load factor of 1.0 in its heartbeat.
	MaxRequestRate int64 `yaml:"maxRequestRate" env:"PALISADE_BROKER_MAX_REQUEST_RATE"`
}

// MetadataConfig configures the Oxia metadata store connection.
type MetadataConfig struct {
	OxiaEndpoint     string `yaml:"oxiaEndpoint" env:"PALISADE_OXIA_ENDPOINT"`
	Namespace        string `yaml:"namespace" env:"PALISADE_OXIA_NAMESPACE"`
	RequestTimeoutMs int64  `yaml:"requestTimeoutMs" env:"PALISADE_OXIA_REQUEST_TIMEOUT_MS"`
	SessionTimeoutMs int64  `yaml:"sessionTimeoutMs" env:"PALISADE_OXIA_SESSION_TIMEOUT_MS"`
}

// IsolationConfig configures policy bootstrap.
type IsolationConfig struct {
	// BootstrapPath is an optional YAML file of isolation policy definitions
	// applied at startup (group name -> definition).
	BootstrapPath string `yaml:"bootstrapPath" env:"PALISADE_ISOLATION_BOOTSTRAP"`
}

// ObservabilityConfig configures the admin/health and metrics endpoints.
type ObservabilityConfig struct {
	AdminAddr   string `yaml:"adminAddr" env:"PALISADE_ADMIN_ADDR"`
	MetricsAddr string `yaml:"metricsAddr" env:"PALISADE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"PALISADE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"PALISADE_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ClusterID: "default",
		Broker: BrokerConfig{
			Address:             "localhost:6650",
			HeartbeatIntervalMs: 5000,
			MaxRequestRate:      1000,
		},
		Metadata: MetadataConfig{
			OxiaEndpoint:     "localhost:6648",
			Namespace:        "palisade",
			RequestTimeoutMs: 30000,
			SessionTimeoutMs: 15000,
		},
		Observability: ObservabilityConfig{
			AdminAddr:   ":8080",
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default configuration with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML config file, then applies environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ClusterID == "" {
		return errors.New("config: clusterId is required")
	}
	if c.Broker.Address == "" {
		return errors.New("config: broker.address is required")
	}
	if c.Broker.HeartbeatIntervalMs <= 0 {
		return errors.New("config: broker.heartbeatIntervalMs must be positive")
	}
	if c.Broker.MaxRequestRate <= 0 {
		return errors.New("config: broker.maxRequestRate must be positive")
	}
	if c.Metadata.OxiaEndpoint == "" {
		return errors.New("config: metadata.oxiaEndpoint is required")
	}
	if c.Metadata.Namespace == "" {
		return errors.New("config: metadata.namespace is required")
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.ClusterID, "PALISADE_CLUSTER_ID")
	setString(&c.Broker.BrokerID, "PALISADE_BROKER_ID")
	setString(&c.Broker.Address, "PALISADE_BROKER_ADDRESS")
	setInt64(&c.Broker.HeartbeatIntervalMs, "PALISADE_HEARTBEAT_INTERVAL_MS")
	setInt64(&c.Broker.MaxRequestRate, "PALISADE_BROKER_MAX_REQUEST_RATE")
	setString(&c.Metadata.OxiaEndpoint, "PALISADE_OXIA_ENDPOINT")
	setString(&c.Metadata.Namespace, "PALISADE_OXIA_NAMESPACE")
	setInt64(&c.Metadata.RequestTimeoutMs, "PALISADE_OXIA_REQUEST_TIMEOUT_MS")
	setInt64(&c.Metadata.SessionTimeoutMs, "PALISADE_OXIA_SESSION_TIMEOUT_MS")
	setString(&c.Isolation.BootstrapPath, "PALISADE_ISOLATION_BOOTSTRAP")
	setString(&c.Observability.AdminAddr, "PALISADE_ADMIN_ADDR")
	setString(&c.Observability.MetricsAddr, "PALISADE_METRICS_ADDR")
	setString(&c.Observability.LogLevel, "PALISADE_LOG_LEVEL")
	setString(&c.Observability.LogFormat, "PALISADE_LOG_FORMAT")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, env string) {
	if v := os.Getenv(env); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}
