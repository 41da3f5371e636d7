// Package config loads and validates the YAML deployment configuration
// shared by the node binaries.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ballplate-go/pkg/acp"
)

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Network NetworkConfig `yaml:"network"`
	Control ControlConfig `yaml:"control"`
	Serial  SerialConfig  `yaml:"serial"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// ---- NODE ----

type NodeConfig struct {
	LogLevel      string  `yaml:"log_level"`
	ArenaCapacity int     `yaml:"arena_capacity"`
	StatsInterval float64 `yaml:"stats_interval_s"` // 0 disables the reporter
}

// ---- NETWORK ----

type NetworkConfig struct {
	// Listen is this node's own link address; it must match one entry
	// of Addresses, which is how the node learns its identity.
	Listen string `yaml:"listen"`

	// Addresses maps node names (plant, controller, pc) to link
	// addresses.
	Addresses map[string]string `yaml:"addresses"`

	RxQueueLen    int `yaml:"rx_queue_len"`
	TxQueueLen    int `yaml:"tx_queue_len"`
	EventQueueLen int `yaml:"event_queue_len"`
}

// ---- CONTROL ----

type ControlConfig struct {
	SamplingPeriod      float64 `yaml:"sampling_period_s"`
	FilterOrder         int     `yaml:"filter_order"`
	ProportionalGain    float64 `yaml:"proportional_gain"`
	IntegralGain        float64 `yaml:"integral_gain"`
	DerivativeGain      float64 `yaml:"derivative_gain"`
	SaturationThreshold float64 `yaml:"saturation_rad"`
	SetpointXMm         float64 `yaml:"setpoint_x_mm"`
	SetpointYMm         float64 `yaml:"setpoint_y_mm"`
	NoTouchTolerance    float64 `yaml:"no_touch_tolerance_s"`
	TraceEnabled        bool    `yaml:"trace_enabled"`
}

// ---- SERIAL ----

type SerialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
}

// ---- MONITOR ----

type MonitorConfig struct {
	// Listen is the websocket endpoint address; empty disables the
	// monitor.
	Listen string `yaml:"listen"`
}

var nodesByName = map[string]acp.NodeID{
	"plant":      acp.NodePlant,
	"controller": acp.NodeController,
	"pc":         acp.NodePC,
}

// Load reads, decodes, validates and normalizes a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills unset fields. It runs before validation so the
// validator sees the effective configuration.
func applyDefaults(cfg *Config) {
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}
	if cfg.Node.ArenaCapacity == 0 {
		cfg.Node.ArenaCapacity = 16384
	}
	if cfg.Network.RxQueueLen == 0 {
		cfg.Network.RxQueueLen = 16
	}
	if cfg.Network.TxQueueLen == 0 {
		cfg.Network.TxQueueLen = 16
	}
	if cfg.Network.EventQueueLen == 0 {
		cfg.Network.EventQueueLen = 64
	}
	if cfg.Serial.BaudRate == 0 {
		cfg.Serial.BaudRate = 115200
	}
}

// AddressTable converts the named address map to the transport's form.
// Call only after Validate.
func (c *Config) AddressTable() map[acp.NodeID]string {
	table := make(map[acp.NodeID]string, len(c.Network.Addresses))
	for name, addr := range c.Network.Addresses {
		table[nodesByName[name]] = addr
	}
	return table
}
