package config

import "fmt"

// Validate checks configuration correctness. It performs declarative
// validation only and never mutates the configuration.
func Validate(cfg *Config) error {
	if len(cfg.Network.Addresses) == 0 {
		return fmt.Errorf("network: no addresses configured")
	}

	listenListed := false
	seen := make(map[string]string)
	for name, addr := range cfg.Network.Addresses {
		if _, known := nodesByName[name]; !known {
			return fmt.Errorf("network: unknown node name %q", name)
		}
		if addr == "" {
			return fmt.Errorf("network: node %q has an empty address", name)
		}
		if other, dup := seen[addr]; dup {
			return fmt.Errorf("network: nodes %q and %q share address %q", other, name, addr)
		}
		seen[addr] = name
		if addr == cfg.Network.Listen {
			listenListed = true
		}
	}
	if cfg.Network.Listen == "" {
		return fmt.Errorf("network: listen address not set")
	}
	if !listenListed {
		return fmt.Errorf("network: listen address %q not in the address table", cfg.Network.Listen)
	}

	if cfg.Network.RxQueueLen < 1 || cfg.Network.TxQueueLen < 1 {
		return fmt.Errorf("network: queue lengths must be positive")
	}
	if cfg.Network.EventQueueLen < 1 {
		return fmt.Errorf("network: event queue length must be positive")
	}

	if cfg.Node.ArenaCapacity < 1 {
		return fmt.Errorf("node: arena capacity must be positive")
	}
	if cfg.Node.StatsInterval < 0 {
		return fmt.Errorf("node: stats interval must not be negative")
	}

	if cfg.Control.SamplingPeriod < 0 {
		return fmt.Errorf("control: sampling period must not be negative")
	}
	if cfg.Control.FilterOrder < 0 {
		return fmt.Errorf("control: filter order must not be negative")
	}
	if cfg.Control.NoTouchTolerance < 0 {
		return fmt.Errorf("control: no-touch tolerance must not be negative")
	}

	if cfg.Serial.BaudRate < 1 {
		return fmt.Errorf("serial: baud rate must be positive")
	}

	return nil
}
