// Package config provides YAML configuration support for the omxconf harness
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/scenario"
)

// AllocMode selects who provides buffer memory
type AllocMode string

const (
	AllocAllocate AllocMode = "allocate" // AllocateBuffer: component memory
	AllocUse      AllocMode = "use"      // UseBuffer: harness memory
)

// QueueOrder selects how freed buffers are handed back out
type QueueOrder string

const (
	OrderFIFO QueueOrder = "fifo"
	OrderLIFO QueueOrder = "lifo"
)

// OutputFormat for log records
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Config represents the full configuration
type Config struct {
	// Component under test
	Component   string `yaml:"component"`
	CoreLibrary string `yaml:"core_library"` // empty = in-process test core
	Tracer      bool   `yaml:"tracer"`       // wrap handles with the call tracer

	// Test selection
	Tests []string `yaml:"tests"` // empty = every registered test

	// Buffer exchange
	Buffers    int        `yaml:"buffers"` // buffers per port in pumping runs
	AllocMode  AllocMode  `yaml:"alloc_mode"`
	QueueOrder QueueOrder `yaml:"queue_order"`

	// Timing
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// Data files
	Inputs     map[uint32]string `yaml:"inputs"`  // port -> input file
	Outputs    map[uint32]string `yaml:"outputs"` // port -> output file
	Metabolism string            `yaml:"metabolism"`

	// Logging
	Trace     string       `yaml:"trace"` // e.g. "passfail,error" or "0x11"
	LogFile   string       `yaml:"log_file"`
	LogFormat OutputFormat `yaml:"log_format"`
	Verbose   bool         `yaml:"verbose"`

	// Web UI
	WebUI WebUIConfig `yaml:"web_ui"`

	// Metrics
	Metrics bool `yaml:"metrics"` // serve /metrics with the web UI
}

// TimeoutConfig bounds every wait on the component
type TimeoutConfig struct {
	StateChange time.Duration `yaml:"state_change"` // Default: 5s
	PortCommand time.Duration `yaml:"port_command"` // Default: 5s
	Buffer      time.Duration `yaml:"buffer"`       // Default: 5s
	Flush       time.Duration `yaml:"flush"`        // Default: 5s
	EOS         time.Duration `yaml:"eos"`          // Default: 10s
}

// WebUIConfig for web interface
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":8080"
}

// DefaultTimeouts returns the timeouts used when nothing is configured
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		StateChange: 5 * time.Second,
		PortCommand: 5 * time.Second,
		Buffer:      5 * time.Second,
		Flush:       5 * time.Second,
		EOS:         10 * time.Second,
	}
}

// DefaultConfig returns a configuration that runs every test against the
// in-process tunnel test component
func DefaultConfig() *Config {
	return &Config{
		Component:  "OMX.CONF.tunnel.test",
		Tests:      []string{},
		Buffers:    20,
		AllocMode:  AllocAllocate,
		QueueOrder: OrderFIFO,
		Timeouts:   DefaultTimeouts(),
		Inputs:     map[uint32]string{},
		Outputs:    map[uint32]string{},
		Trace:      "passfail,error,warning",
		LogFormat:  FormatText,

		WebUI: WebUIConfig{
			Enabled: false,
			Address: ":8080",
		},
		Metrics: true,
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Component == "" {
		return fmt.Errorf("component is required")
	}

	for _, name := range c.Tests {
		if _, ok := scenario.Lookup(name); !ok {
			return fmt.Errorf("unknown test: %s", name)
		}
	}

	if c.Buffers < 0 {
		return fmt.Errorf("buffers must be >= 0")
	}

	switch c.AllocMode {
	case AllocAllocate, AllocUse:
	default:
		return fmt.Errorf("invalid alloc mode: %s", c.AllocMode)
	}

	switch c.QueueOrder {
	case OrderFIFO, OrderLIFO:
	default:
		return fmt.Errorf("invalid queue order: %s", c.QueueOrder)
	}

	// Validate timeouts
	for name, d := range map[string]time.Duration{
		"state_change": c.Timeouts.StateChange,
		"port_command": c.Timeouts.PortCommand,
		"buffer":       c.Timeouts.Buffer,
		"flush":        c.Timeouts.Flush,
		"eos":          c.Timeouts.EOS,
	} {
		if d <= 0 {
			return fmt.Errorf("timeout %s must be > 0", name)
		}
	}

	// Validate file mappings
	for port, path := range c.Inputs {
		if _, ok := c.Outputs[port]; ok {
			return fmt.Errorf("port %d mapped as both input and output", port)
		}
		if path == "" {
			return fmt.Errorf("input for port %d has no file", port)
		}
	}
	for port, path := range c.Outputs {
		if path == "" {
			return fmt.Errorf("output for port %d has no file", port)
		}
	}

	if _, err := logging.ParseTraceFlags(c.Trace); err != nil {
		return fmt.Errorf("invalid trace flags: %w", err)
	}

	switch c.LogFormat {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	if c.WebUI.Enabled && c.WebUI.Address == "" {
		return fmt.Errorf("web UI requires an address")
	}

	return nil
}

// SelectedTests returns the configured tests, or every registered test when
// none are listed
func (c *Config) SelectedTests() []string {
	if len(c.Tests) == 0 {
		return scenario.Names()
	}
	return append([]string(nil), c.Tests...)
}
