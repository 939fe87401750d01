package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// ============================================================================
// DefaultConfig Tests
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.Component != "OMX.CONF.tunnel.test" {
		t.Errorf("Expected Component=OMX.CONF.tunnel.test, got %s", cfg.Component)
	}

	if cfg.CoreLibrary != "" {
		t.Errorf("Expected in-process core, got %s", cfg.CoreLibrary)
	}

	if cfg.Buffers != 20 {
		t.Errorf("Expected Buffers=20, got %d", cfg.Buffers)
	}

	if cfg.AllocMode != AllocAllocate {
		t.Errorf("Expected AllocMode=%s, got %s", AllocAllocate, cfg.AllocMode)
	}

	if cfg.QueueOrder != OrderFIFO {
		t.Errorf("Expected QueueOrder=%s, got %s", OrderFIFO, cfg.QueueOrder)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestDefaultTimeouts(t *testing.T) {
	want := TimeoutConfig{
		StateChange: 5 * time.Second,
		PortCommand: 5 * time.Second,
		Buffer:      5 * time.Second,
		Flush:       5 * time.Second,
		EOS:         10 * time.Second,
	}
	if diff := cmp.Diff(want, DefaultTimeouts()); diff != "" {
		t.Errorf("DefaultTimeouts() mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectedTestsDefaultsToAll(t *testing.T) {
	cfg := DefaultConfig()
	tests := cfg.SelectedTests()

	if len(tests) < 11 {
		t.Errorf("Expected every registered test, got %v", tests)
	}

	cfg.Tests = []string{"BufferTest", "FlushTest"}
	if diff := cmp.Diff([]string{"BufferTest", "FlushTest"}, cfg.SelectedTests()); diff != "" {
		t.Errorf("SelectedTests() mismatch (-want +got):\n%s", diff)
	}
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no component", func(c *Config) { c.Component = "" }, "component is required"},
		{"unknown test", func(c *Config) { c.Tests = []string{"NoSuchTest"} }, "unknown test"},
		{"negative buffers", func(c *Config) { c.Buffers = -1 }, "buffers"},
		{"bad alloc mode", func(c *Config) { c.AllocMode = "borrow" }, "alloc mode"},
		{"bad queue order", func(c *Config) { c.QueueOrder = "random" }, "queue order"},
		{"zero state timeout", func(c *Config) { c.Timeouts.StateChange = 0 }, "state_change"},
		{"zero eos timeout", func(c *Config) { c.Timeouts.EOS = 0 }, "eos"},
		{"port both ways", func(c *Config) {
			c.Inputs[0] = "in.bin"
			c.Outputs[0] = "out.bin"
		}, "both input and output"},
		{"empty input", func(c *Config) { c.Inputs[0] = "" }, "no file"},
		{"bad trace", func(c *Config) { c.Trace = "loud" }, "trace flags"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"web without address", func(c *Config) {
			c.WebUI.Enabled = true
			c.WebUI.Address = ""
		}, "address"},
		{"lifo use", func(c *Config) {
			c.AllocMode = AllocUse
			c.QueueOrder = OrderLIFO
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// ============================================================================
// Save/Load Tests
// ============================================================================

func TestSaveAndLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	cfg := DefaultConfig()
	cfg.Component = "OMX.vendor.video_decoder.avc"
	cfg.CoreLibrary = "/usr/lib/libOmxCore.so"
	cfg.Tests = []string{"StateTransitionTest", "BufferTest"}
	cfg.QueueOrder = OrderLIFO
	cfg.Timeouts.Buffer = 750 * time.Millisecond
	cfg.Inputs[0] = "/data/in.264"
	cfg.Outputs[1] = "/tmp/out.yuv"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("Loaded config mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.yaml")
	yaml := `component: OMX.CONF.sink.test
timeouts:
  state_change: 2s
inputs:
  0: stream.bin
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Component != "OMX.CONF.sink.test" {
		t.Errorf("Component: expected OMX.CONF.sink.test, got %s", cfg.Component)
	}
	if cfg.Timeouts.StateChange != 2*time.Second {
		t.Errorf("StateChange: expected 2s, got %v", cfg.Timeouts.StateChange)
	}
	if cfg.Timeouts.EOS != 10*time.Second {
		t.Errorf("EOS: expected default 10s, got %v", cfg.Timeouts.EOS)
	}
	if cfg.Inputs[0] != "stream.bin" {
		t.Errorf("Inputs[0]: expected stream.bin, got %q", cfg.Inputs[0])
	}
	if cfg.Buffers != 20 {
		t.Errorf("Buffers: expected default 20, got %d", cfg.Buffers)
	}
}

func TestLoadNonexistent(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("{{{{invalid yaml"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid-config.yaml")

	if err := os.WriteFile(configPath, []byte("alloc_mode: borrow\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "validate config") {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// ============================================================================
// Constant Tests
// ============================================================================

func TestModeConstants(t *testing.T) {
	values := map[string]string{
		string(AllocAllocate): "allocate",
		string(AllocUse):      "use",
		string(OrderFIFO):     "fifo",
		string(OrderLIFO):     "lifo",
		string(FormatText):    "text",
		string(FormatJSON):    "json",
	}

	for got, expected := range values {
		if got != expected {
			t.Errorf("Expected '%s', got '%s'", expected, got)
		}
	}
}

// ============================================================================
// Benchmark Tests
// ============================================================================

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkValidate(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}
