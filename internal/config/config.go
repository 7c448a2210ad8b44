package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/ledgerbus/internal/config/loader"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "LEDGERBUS_"

// Dispatcher modes.
const (
	ModePool   = "pool"
	ModeInline = "inline"
)

// Overflow policies.
const (
	OverflowBlock  = "block"
	OverflowReject = "reject"
)

// Config is the node configuration.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Simulation SimulationConfig `toml:"simulation"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error, off.
	Level string `toml:"level"`
	// Format is console or json.
	Format string `toml:"format"`
}

// DispatcherConfig configures the lane dispatcher.
type DispatcherConfig struct {
	// Mode is pool (one worker per lane) or inline (synchronous).
	Mode string `toml:"mode"`
	// QueueSize is the capacity of each lane queue.
	QueueSize int `toml:"queue_size"`
	// Overflow is block or reject.
	Overflow string `toml:"overflow"`
	// DrainTimeout bounds how long shutdown waits for queued tasks.
	DrainTimeout Duration `toml:"drain_timeout"`
}

// MetricsConfig configures the diagnostics server.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	// Addr is the listen address of the diagnostics server.
	Addr string `toml:"addr"`
	// Namespace prefixes every exported metric.
	Namespace string `toml:"namespace"`
}

// SimulationConfig configures the synthetic round driver of the run command.
type SimulationConfig struct {
	// Rounds is the number of rounds to drive; 0 runs until stopped.
	Rounds int `toml:"rounds"`
	// Interval is the time between rounds.
	Interval Duration `toml:"interval"`
	// TxPerProposal is the number of transactions in each proposal.
	TxPerProposal int `toml:"tx_per_proposal"`
	// BatchesPerRound is the number of pending MST batches per round.
	BatchesPerRound int `toml:"batches_per_round"`
	// OutcomeDelay delays the delayed-outcome notification.
	OutcomeDelay Duration `toml:"outcome_delay"`
	// RejectEvery makes every n-th round a reject; 0 disables rejects.
	RejectEvery int `toml:"reject_every"`
}

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Dispatcher: DispatcherConfig{
			Mode:         ModePool,
			QueueSize:    1024,
			Overflow:     OverflowBlock,
			DrainTimeout: Duration(5 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:9464",
			Namespace: "ledgerbus",
		},
		Simulation: SimulationConfig{
			Rounds:          0,
			Interval:        Duration(time.Second),
			TxPerProposal:   10,
			BatchesPerRound: 2,
			OutcomeDelay:    Duration(200 * time.Millisecond),
			RejectEvery:     5,
		},
	}
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	fs       loader.FileSystem
	env      *loader.EnvLoader
	required bool
}

// WithFS sets the file system the config file is read from.
func WithFS(fsys loader.FileSystem) Option {
	return func(o *loadOptions) {
		o.fs = fsys
	}
}

// WithEnvLoader replaces the environment loader.
func WithEnvLoader(l *loader.EnvLoader) Option {
	return func(o *loadOptions) {
		o.env = l
	}
}

// WithRequired makes a missing config file an error.
func WithRequired(required bool) Option {
	return func(o *loadOptions) {
		o.required = required
	}
}

// Load resolves the configuration from defaults, the TOML file at path
// and LEDGERBUS_* environment variables, then validates it.
// An empty path skips the file layer.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{
		fs:  loader.DefaultFS(),
		env: loader.NewEnvLoader(EnvPrefix),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if path != "" && o.required {
		if _, err := o.fs.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
	}

	// The CLI reads the config path from LEDGERBUS_CONFIG; it is not a setting.
	o.env.AddMapping(EnvPrefix+"CONFIG", "")

	// Later layers override earlier ones.
	layers := []loader.Loader{
		loader.NewTOMLLoaderWithFS(o.fs, path),
		o.env,
	}
	var merged map[string]any
	for _, l := range layers {
		layer, err := l.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, layer)
	}

	cfg := Default()
	if len(merged) > 0 {
		source := path
		if source == "" {
			source = "environment"
		}
		if err := decode(source, merged, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode applies the merged layers on top of cfg.
func decode(source string, layers map[string]any, cfg *Config) error {
	data, err := toml.Marshal(layers)
	if err != nil {
		return fmt.Errorf("encoding config layers: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return nil
}

// Validate checks every setting and returns the first failure.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error", "off":
	default:
		return &ValidationError{Path: "log.level", Message: "unknown level", Value: c.Log.Level}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return &ValidationError{Path: "log.format", Message: "must be console or json", Value: c.Log.Format}
	}

	switch c.Dispatcher.Mode {
	case ModePool, ModeInline:
	default:
		return &ValidationError{Path: "dispatcher.mode", Message: "must be pool or inline", Value: c.Dispatcher.Mode}
	}
	if c.Dispatcher.QueueSize <= 0 {
		return &ValidationError{Path: "dispatcher.queue_size", Message: "must be positive", Value: c.Dispatcher.QueueSize}
	}
	switch c.Dispatcher.Overflow {
	case OverflowBlock, OverflowReject:
	default:
		return &ValidationError{Path: "dispatcher.overflow", Message: "must be block or reject", Value: c.Dispatcher.Overflow}
	}
	if c.Dispatcher.DrainTimeout <= 0 {
		return &ValidationError{Path: "dispatcher.drain_timeout", Message: "must be positive", Value: c.Dispatcher.DrainTimeout.Std()}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return &ValidationError{Path: "metrics.addr", Message: "required when metrics are enabled", Value: c.Metrics.Addr}
	}

	s := c.Simulation
	if s.Rounds < 0 {
		return &ValidationError{Path: "simulation.rounds", Message: "must not be negative", Value: s.Rounds}
	}
	if s.Interval <= 0 {
		return &ValidationError{Path: "simulation.interval", Message: "must be positive", Value: s.Interval.Std()}
	}
	if s.TxPerProposal < 0 {
		return &ValidationError{Path: "simulation.tx_per_proposal", Message: "must not be negative", Value: s.TxPerProposal}
	}
	if s.BatchesPerRound < 0 {
		return &ValidationError{Path: "simulation.batches_per_round", Message: "must not be negative", Value: s.BatchesPerRound}
	}
	if s.OutcomeDelay < 0 {
		return &ValidationError{Path: "simulation.outcome_delay", Message: "must not be negative", Value: s.OutcomeDelay.Std()}
	}
	if s.RejectEvery < 0 {
		return &ValidationError{Path: "simulation.reject_every", Message: "must not be negative", Value: s.RejectEvery}
	}
	return nil
}

// Encode writes c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
