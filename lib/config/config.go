// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// EnvVar names the environment variable consulted when no --config
// flag is given.
const EnvVar = "HOSTWATCH_CONFIG"

// KnownSources lists the entity classes the daemon can sample.
var KnownSources = []string{"cpu", "disk", "nic", "sched"}

// Config is the complete hostwatch configuration.
type Config struct {
	// Database is the SQLite history file. Empty keeps history in
	// memory (useful for trying the daemon out; nothing survives a
	// restart).
	Database string `yaml:"database"`

	// Interval is the sampling period.
	Interval time.Duration `yaml:"interval"`

	// AcquireTimeout bounds each snapshot acquisition. Zero means half
	// the interval.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// CompactEvery runs compaction and pruning every N ticks.
	CompactEvery int `yaml:"compact_every"`

	// RetryLimit bounds how many failed appends are held per entity for
	// retry on the next tick.
	RetryLimit int `yaml:"retry_limit"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MetricsListen is the address of the Prometheus endpoint, for
	// example "127.0.0.1:9464". Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`

	// ProcRoot and SysRoot locate procfs and sysfs.
	ProcRoot string `yaml:"proc_root"`
	SysRoot  string `yaml:"sys_root"`

	// Sources enables entity classes; see KnownSources.
	Sources []string `yaml:"sources"`

	// Tiers is the resolution ladder, finest first.
	Tiers []TierConfig `yaml:"tiers"`

	// Counters overrides delta thresholds, keyed by "class/counter"
	// (for example "disk/read_sectors").
	Counters map[string]CounterConfig `yaml:"counters"`
}

// TierConfig is one rung of the ladder as written in the file.
type TierConfig struct {
	Name        string            `yaml:"name"`
	Interval    time.Duration     `yaml:"interval"`
	Span        time.Duration     `yaml:"span"`
	Aggregation string            `yaml:"aggregation"`
	Overrides   map[string]string `yaml:"overrides"`
}

// CounterConfig overrides the width and wrap thresholds of a counter.
// Zero fields keep the source's declaration.
type CounterConfig struct {
	Width    uint8   `yaml:"width"`
	MaxDelta uint64  `yaml:"max_delta"`
	MaxRate  float64 `yaml:"max_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	ladder := history.DefaultLadder()
	tiers := make([]TierConfig, len(ladder))
	for i, tier := range ladder {
		tiers[i] = TierConfig{
			Name:        tier.Name,
			Interval:    tier.Interval,
			Span:        tier.Span,
			Aggregation: string(tier.Aggregation),
		}
	}
	return &Config{
		Database:     "/var/lib/hostwatch/history.db",
		Interval:     time.Second,
		CompactEvery: 60,
		RetryLimit:   16,
		LogLevel:     "info",
		ProcRoot:     "/proc",
		SysRoot:      "/sys",
		Sources:      slices.Clone(KnownSources),
		Tiers:        tiers,
	}
}

// Resolve loads the file named by flagPath, or by HOSTWATCH_CONFIG
// when flagPath is empty, or returns Default when neither is set. The
// result is validated.
func Resolve(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, cfg.Validate()
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile reads path over the defaults and expands path variables. It
// does not validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one set of field tags serves both.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	// A tiers list in the file replaces the default ladder rather than
	// merging into it element by element.
	cfg.Tiers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Tiers == nil {
		cfg.Tiers = Default().Tiers
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Database = expandVars(c.Database, vars)
	c.ProcRoot = expandVars(c.ProcRoot, vars)
	c.SysRoot = expandVars(c.SysRoot, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}, consulting vars
// before the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// EffectiveAcquireTimeout applies the half-interval default.
func (c *Config) EffectiveAcquireTimeout() time.Duration {
	if c.AcquireTimeout > 0 {
		return c.AcquireTimeout
	}
	return c.Interval / 2
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.AcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("acquire_timeout must not be negative"))
	}
	if c.Interval > 0 && c.AcquireTimeout > c.Interval {
		errs = append(errs, fmt.Errorf("acquire_timeout %s exceeds interval %s", c.AcquireTimeout, c.Interval))
	}
	if c.CompactEvery < 1 {
		errs = append(errs, fmt.Errorf("compact_every must be at least 1, got %d", c.CompactEvery))
	}
	if c.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("retry_limit must not be negative"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.ProcRoot == "" || c.SysRoot == "" {
		errs = append(errs, fmt.Errorf("proc_root and sys_root are required"))
	}
	for _, source := range c.Sources {
		if !slices.Contains(KnownSources, source) {
			errs = append(errs, fmt.Errorf("unknown source %q (known: %s)", source, strings.Join(KnownSources, ", ")))
		}
	}
	if _, err := c.Ladder(); err != nil {
		errs = append(errs, err)
	}
	for name, counter := range c.Counters {
		key, err := sample.ParseKey(name)
		if err != nil || key.ID == "" {
			errs = append(errs, fmt.Errorf("counters: key %q must be class/counter", name))
		}
		if counter.Width > 64 {
			errs = append(errs, fmt.Errorf("counters: %s: width %d exceeds 64", name, counter.Width))
		}
		if counter.MaxRate < 0 {
			errs = append(errs, fmt.Errorf("counters: %s: max_rate must not be negative", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Ladder converts and validates the configured tiers.
func (c *Config) Ladder() ([]history.Tier, error) {
	tiers := make([]history.Tier, len(c.Tiers))
	for i, tc := range c.Tiers {
		aggregation, err := history.ParseAggregation(tc.Aggregation)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
		tier := history.Tier{
			Name:        tc.Name,
			Interval:    tc.Interval,
			Span:        tc.Span,
			Aggregation: aggregation,
		}
		if len(tc.Overrides) > 0 {
			tier.Overrides = make(map[string]history.Aggregation, len(tc.Overrides))
			for counter, name := range tc.Overrides {
				override, err := history.ParseAggregation(name)
				if err != nil {
					return nil, fmt.Errorf("tier %s: counter %s: %w", tc.Name, counter, err)
				}
				tier.Overrides[counter] = override
			}
		}
		tiers[i] = tier
	}
	if err := history.ValidateLadder(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// ApplyCounter returns spec with any configured override for
// class/counter applied.
func (c *Config) ApplyCounter(class, counter string, spec sample.CounterSpec) sample.CounterSpec {
	override, ok := c.Counters[class+"/"+counter]
	if !ok {
		return spec
	}
	if override.Width != 0 {
		spec.Width = override.Width
	}
	if override.MaxDelta != 0 {
		spec.MaxDelta = override.MaxDelta
	}
	if override.MaxRate != 0 {
		spec.MaxRate = override.MaxRate
	}
	return spec
}
