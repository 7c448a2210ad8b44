package event

import "github.com/rs/zerolog"

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// engineConfig contains configuration for an engine.
type engineConfig struct {
	// name identifies the engine in logs. Defaults to "<key type>/<args type>".
	name string

	// logger receives submit failures and prune events.
	logger zerolog.Logger
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		logger: zerolog.Nop(),
	}
}

// WithName sets the engine name.
func WithName(name string) EngineOption {
	return func(c *engineConfig) {
		c.name = name
	}
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(c *engineConfig) {
		c.logger = l
	}
}
