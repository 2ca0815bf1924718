// Package config loads the optional .lq/config.yml tuning file.
//
// Everything here has a working default; an absent file, or a file that
// sets only some keys, is the normal case. Unknown keys are rejected so
// a typo fails loudly instead of silently falling back to a default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blqio/blq/internal/store"
)

// FileName is the config file name inside the .lq directory.
const FileName = "config.yml"

// Config is the tunable surface of a recording directory.
type Config struct {
	// InlineThresholdBytes is the size below which output content is
	// stored inline in the database instead of as a blob file.
	InlineThresholdBytes int `yaml:"inline_threshold_bytes"`

	// LivePollIntervalMs is how often follow readers re-check the live
	// output file.
	LivePollIntervalMs int `yaml:"live_poll_interval_ms"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig tunes the lock-contention retry loop around writes.
type RetryConfig struct {
	MaxAttempts         int     `yaml:"max_attempts"`
	InitialIntervalMs   int     `yaml:"initial_interval_ms"`
	MaxIntervalMs       int     `yaml:"max_interval_ms"`
	Multiplier          float64 `yaml:"multiplier"`
	RandomizationFactor float64 `yaml:"randomization_factor"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	policy := store.DefaultRetryPolicy()
	return Config{
		InlineThresholdBytes: store.DefaultInlineThreshold,
		LivePollIntervalMs:   100,
		Retry: RetryConfig{
			MaxAttempts:         policy.MaxAttempts,
			InitialIntervalMs:   int(policy.InitialInterval / time.Millisecond),
			MaxIntervalMs:       int(policy.MaxInterval / time.Millisecond),
			Multiplier:          policy.Multiplier,
			RandomizationFactor: policy.RandomizationFactor,
		},
	}
}

// Load reads the config file at path, layering it over the defaults.
// A missing file returns the defaults with no error; a malformed file
// or unknown key is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize replaces out-of-range values with their defaults. The blob
// store applies its own threshold clamp on top of this.
func (c *Config) normalize() {
	def := Default()
	if c.LivePollIntervalMs <= 0 {
		c.LivePollIntervalMs = def.LivePollIntervalMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.InitialIntervalMs <= 0 {
		c.Retry.InitialIntervalMs = def.Retry.InitialIntervalMs
	}
	if c.Retry.MaxIntervalMs <= 0 {
		c.Retry.MaxIntervalMs = def.Retry.MaxIntervalMs
	}
	if c.Retry.Multiplier <= 1 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.Retry.RandomizationFactor < 0 || c.Retry.RandomizationFactor > 1 {
		c.Retry.RandomizationFactor = def.Retry.RandomizationFactor
	}
}

// LivePollInterval returns the follow poll interval as a duration.
func (c Config) LivePollInterval() time.Duration {
	return time.Duration(c.LivePollIntervalMs) * time.Millisecond
}

// RetryPolicy converts the retry tuning into the store's policy shape.
func (c Config) RetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxAttempts:         c.Retry.MaxAttempts,
		InitialInterval:     time.Duration(c.Retry.InitialIntervalMs) * time.Millisecond,
		MaxInterval:         time.Duration(c.Retry.MaxIntervalMs) * time.Millisecond,
		Multiplier:          c.Retry.Multiplier,
		RandomizationFactor: c.Retry.RandomizationFactor,
	}
}
