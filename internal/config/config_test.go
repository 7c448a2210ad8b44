package config

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/ledgerbus/internal/config/loader"
)

type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(data), nil
}

func (m memFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m[path]; !ok {
		return nil, fs.ErrNotExist
	}
	return nil, nil
}

// noEnv isolates tests from LEDGERBUS_* variables of the host.
func noEnv() Option {
	return WithEnvLoader(loader.NewEnvLoader("LEDGERBUS_TEST_UNSET_PREFIX_"))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Dispatcher.Mode != ModePool {
		t.Errorf("Dispatcher.Mode = %q, want pool", cfg.Dispatcher.Mode)
	}
	if cfg.Dispatcher.Overflow != OverflowBlock {
		t.Errorf("Dispatcher.Overflow = %q, want block", cfg.Dispatcher.Overflow)
	}
	if cfg.Dispatcher.DrainTimeout.Std() != 5*time.Second {
		t.Errorf("Dispatcher.DrainTimeout = %v, want 5s", cfg.Dispatcher.DrainTimeout.Std())
	}
}

func TestLoad_File(t *testing.T) {
	fsys := memFS{"/etc/ledgerbus.toml": `
[log]
level = "debug"
format = "json"

[dispatcher]
mode = "inline"
queue_size = 64
overflow = "reject"
drain_timeout = "750ms"

[simulation]
rounds = 3
interval = "10ms"
`}

	cfg, err := Load("/etc/ledgerbus.toml", WithFS(fsys), noEnv())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Dispatcher.Mode != ModeInline {
		t.Errorf("Dispatcher.Mode = %q, want inline", cfg.Dispatcher.Mode)
	}
	if cfg.Dispatcher.QueueSize != 64 {
		t.Errorf("Dispatcher.QueueSize = %d, want 64", cfg.Dispatcher.QueueSize)
	}
	if cfg.Dispatcher.Overflow != OverflowReject {
		t.Errorf("Dispatcher.Overflow = %q, want reject", cfg.Dispatcher.Overflow)
	}
	if cfg.Dispatcher.DrainTimeout.Std() != 750*time.Millisecond {
		t.Errorf("Dispatcher.DrainTimeout = %v, want 750ms", cfg.Dispatcher.DrainTimeout.Std())
	}
	if cfg.Simulation.Rounds != 3 || cfg.Simulation.Interval.Std() != 10*time.Millisecond {
		t.Errorf("Simulation = %+v", cfg.Simulation)
	}

	// Untouched sections keep their defaults.
	if cfg.Metrics != Default().Metrics {
		t.Errorf("Metrics = %+v, want defaults", cfg.Metrics)
	}
	if cfg.Simulation.TxPerProposal != Default().Simulation.TxPerProposal {
		t.Errorf("Simulation.TxPerProposal = %d, want default", cfg.Simulation.TxPerProposal)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	fsys := memFS{"/ledgerbus.toml": "[dispatcher]\nqueue_size = 64\n[metrics]\naddr = \":9000\"\n"}

	t.Setenv("LEDGERBUS_DISPATCHER_QUEUE_SIZE", "128")
	t.Setenv("LEDGERBUS_DISPATCHER_DRAIN_TIMEOUT", "2s")
	t.Setenv("LEDGERBUS_LOG_LEVEL", "warn")

	cfg, err := Load("/ledgerbus.toml", WithFS(fsys))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Dispatcher.QueueSize != 128 {
		t.Errorf("Dispatcher.QueueSize = %d, want 128 from environment", cfg.Dispatcher.QueueSize)
	}
	if cfg.Dispatcher.DrainTimeout.Std() != 2*time.Second {
		t.Errorf("Dispatcher.DrainTimeout = %v, want 2s", cfg.Dispatcher.DrainTimeout.Std())
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Metrics.Addr != ":9000" {
		t.Errorf("Metrics.Addr = %q, want :9000 from file", cfg.Metrics.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/missing.toml", WithFS(memFS{}), noEnv())
	if err != nil {
		t.Fatalf("missing optional file should not fail: %v", err)
	}
	if cfg.Dispatcher != Default().Dispatcher {
		t.Errorf("expected defaults, got %+v", cfg.Dispatcher)
	}

	_, err = Load("/missing.toml", WithFS(memFS{}), WithRequired(true), noEnv())
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestLoad_ParseError(t *testing.T) {
	fsys := memFS{"/bad.toml": "[dispatcher\n"}

	_, err := Load("/bad.toml", WithFS(fsys), noEnv())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Path != "/bad.toml" {
		t.Errorf("Path = %q, want /bad.toml", perr.Path)
	}
}

func TestLoad_TypeMismatch(t *testing.T) {
	fsys := memFS{"/bad.toml": "[dispatcher]\ndrain_timeout = \"soon\"\n"}

	_, err := Load("/bad.toml", WithFS(fsys), noEnv())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"misspelled key", "[dispatcher]\nqueue_sise = 64\n"},
		{"unknown section", "[dispatch]\nmode = \"inline\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := memFS{"/node.toml": tt.data}

			_, err := Load("/node.toml", WithFS(fsys), noEnv())
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if perr.Path != "/node.toml" {
				t.Errorf("Path = %q, want /node.toml", perr.Path)
			}
		})
	}
}

func TestLoad_ConfigPathVariableIgnored(t *testing.T) {
	env := loader.NewEnvLoader(EnvPrefix)
	t.Setenv("LEDGERBUS_CONFIG", "/etc/ledgerbus.toml")
	t.Setenv("LEDGERBUS_DISPATCHER_MODE", "inline")

	cfg, err := Load("", WithEnvLoader(env))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dispatcher.Mode != ModeInline {
		t.Errorf("Dispatcher.Mode = %q, want inline", cfg.Dispatcher.Mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"mode", func(c *Config) { c.Dispatcher.Mode = "threads" }, "dispatcher.mode"},
		{"queue size", func(c *Config) { c.Dispatcher.QueueSize = 0 }, "dispatcher.queue_size"},
		{"overflow", func(c *Config) { c.Dispatcher.Overflow = "drop" }, "dispatcher.overflow"},
		{"drain timeout", func(c *Config) { c.Dispatcher.DrainTimeout = 0 }, "dispatcher.drain_timeout"},
		{"metrics addr", func(c *Config) { c.Metrics.Addr = "" }, "metrics.addr"},
		{"rounds", func(c *Config) { c.Simulation.Rounds = -1 }, "simulation.rounds"},
		{"interval", func(c *Config) { c.Simulation.Interval = 0 }, "simulation.interval"},
		{"tx per proposal", func(c *Config) { c.Simulation.TxPerProposal = -1 }, "simulation.tx_per_proposal"},
		{"batches", func(c *Config) { c.Simulation.BatchesPerRound = -1 }, "simulation.batches_per_round"},
		{"outcome delay", func(c *Config) { c.Simulation.OutcomeDelay = -1 }, "simulation.outcome_delay"},
		{"reject every", func(c *Config) { c.Simulation.RejectEvery = -1 }, "simulation.reject_every"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tt.path {
				t.Errorf("Path = %q, want %q", verr.Path, tt.path)
			}
			if !errors.Is(err, ErrValidationFailed) {
				t.Error("ValidationError should match ErrValidationFailed")
			}
		})
	}
}

func TestValidate_MetricsDisabled(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("addr is optional when metrics are disabled: %v", err)
	}
}

func TestEncode(t *testing.T) {
	data, err := Default().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(string(data), `drain_timeout = '5s'`) && !strings.Contains(string(data), `drain_timeout = "5s"`) {
		t.Errorf("expected drain_timeout as a duration string:\n%s", data)
	}

	var decoded Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("encoded config does not decode: %v", err)
	}
	if decoded != *Default() {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, *Default())
	}
}
