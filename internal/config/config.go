// Package config loads the engine's YAML configuration file and applies
// defaults. Everything in it maps onto engine options; rule documents
// are referenced by path and loaded separately.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/emberfall/cinder/internal/faults"
)

// Config is the root configuration document.
type Config struct {
	// Name identifies the engine in logs and metric labels.
	Name string `yaml:"name"`

	Log         Log         `yaml:"log"`
	Persistence Persistence `yaml:"persistence"`
	Engine      Tunables    `yaml:"engine"`
	Timers      Timers      `yaml:"timerPersistence"`
	Webhook     Webhook     `yaml:"webhookRetry"`
	Metrics     Metrics     `yaml:"metrics"`

	// Rules lists rule document paths (JSON, single object or array)
	// loaded at startup.
	Rules []string `yaml:"rules"`
}

// Log controls structured logging.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Persistence selects the storage adapter. An empty path keeps all
// state in memory.
type Persistence struct {
	Path string `yaml:"path"` // SQLite database file
}

// Tunables are the dispatch loop knobs.
type Tunables struct {
	MaxCausationDepth         int   `yaml:"maxCausationDepth"`
	DefaultRuleTimeoutMs      int64 `yaml:"defaultRuleTimeoutMs"`
	TemporalCleanupIntervalMs int64 `yaml:"temporalCleanupIntervalMs"`
}

// Timers controls durable timers.
type Timers struct {
	Enabled         bool  `yaml:"enabled"`
	CheckIntervalMs int64 `yaml:"checkIntervalMs"`
}

// Webhook is the delivery retry policy.
type Webhook struct {
	Attempts    int     `yaml:"attempts"`
	BaseMs      int64   `yaml:"baseMs"`
	Factor      float64 `yaml:"factor"`
	JitterRatio float64 `yaml:"jitterRatio"`
	TimeoutMs   int64   `yaml:"timeoutMs"`
}

// Metrics controls per-rule label cardinality.
type Metrics struct {
	PerRuleMetrics  bool `yaml:"perRuleMetrics"`
	MaxLabeledRules int  `yaml:"maxLabeledRules"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Name: "cinder",
		Log:  Log{Level: "info", Format: "text"},
		Engine: Tunables{
			MaxCausationDepth:         32,
			DefaultRuleTimeoutMs:      5000,
			TemporalCleanupIntervalMs: 1000,
		},
		Timers: Timers{CheckIntervalMs: 1000},
	}
}

// Load reads and validates a configuration file. Unset fields keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, faults.Wrap(faults.CodeNotFound, err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, faults.Wrap(faults.CodeValidation, err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Name == "" {
		return faults.Validation("config: name must not be empty")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return faults.Validation("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return faults.Validation("config: unknown log format %q", c.Log.Format)
	}
	if c.Engine.MaxCausationDepth < 0 {
		return faults.Validation("config: maxCausationDepth must not be negative")
	}
	if c.Timers.Enabled && c.Persistence.Path == "" {
		return faults.Validation("config: timerPersistence requires persistence.path")
	}
	return nil
}
