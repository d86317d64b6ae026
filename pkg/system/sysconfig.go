package system

import (
	"fmt"
	"time"

	"github.com/shoalio/shoal/pkg/config"
	"github.com/shoalio/shoal/pkg/core"
)

// Config is the file-level configuration for a system. Loaded with
// config.LoadWithEnv; Name, QuantumMs and the inspector fields can be
// overridden through SHOAL_* environment variables (SHOAL_NAME,
// SHOAL_QUANTUMMS, SHOAL_INSPECTOR_ADDR, ...). The Workers list cannot:
// setting SHOAL_WORKERS makes loading fail.
type Config struct {
	Name      string          `yaml:"name" json:"name"`
	QuantumMs int             `yaml:"quantum_ms" json:"quantum_ms"`
	Workers   []WorkerConfig  `yaml:"workers" json:"workers"`
	Inspector InspectorConfig `yaml:"inspector" json:"inspector"`
}

// WorkerConfig declares one owned-thread worker to create at startup.
type WorkerConfig struct {
	Name string `yaml:"name" json:"name"`
}

// InspectorConfig controls the debug HTTP endpoint.
type InspectorConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// DefaultConfig returns a single-worker configuration.
func DefaultConfig() Config {
	return Config{
		Name:    "shoal",
		Workers: []WorkerConfig{{Name: "w0"}},
	}
}

// LoadConfig reads a Config from path with SHOAL_* env overrides and
// validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := config.LoadWithEnv(path, "SHOAL", &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on an unusable configuration.
func (c *Config) Validate() error {
	if c.QuantumMs < 0 {
		return fmt.Errorf("quantum_ms must be non-negative")
	}
	seen := make(map[string]bool)
	for _, wc := range c.Workers {
		if wc.Name == "" {
			return fmt.Errorf("worker name cannot be empty")
		}
		if wc.Name == InitWorkerName {
			return fmt.Errorf("worker name %q is reserved", InitWorkerName)
		}
		if seen[wc.Name] {
			return fmt.Errorf("duplicate worker name %q", wc.Name)
		}
		seen[wc.Name] = true
	}
	if c.Inspector.Enabled && c.Inspector.Addr == "" {
		return fmt.Errorf("inspector.addr is required when the inspector is enabled")
	}
	return nil
}

// FromConfig builds a system and creates its configured workers.
func FromConfig(cfg Config, logger core.Logger) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := New(Options{
		Name:    cfg.Name,
		Quantum: time.Duration(cfg.QuantumMs) * time.Millisecond,
		Logger:  logger,
	})
	for _, wc := range cfg.Workers {
		if _, err := s.CreateWorker(wc.Name); err != nil {
			s.Shutdown() //nolint:errcheck // best effort on failed bring-up
			return nil, err
		}
	}
	return s, nil
}
