// Package config provides configuration loading and management for eyestem.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"eyestem/pkg/estimation"
	"eyestem/pkg/registration"
)

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input parameters
	Input struct {
		// SpacingX and SpacingY give the pixel size in mm. Zero means read
		// it from the image's EXIF resolution, or use 1 when absent.
		SpacingX float64 `yaml:"spacingX"`
		SpacingY float64 `yaml:"spacingY"`
	} `yaml:"input"`

	// Eye orb estimation constants
	Eye estimation.EyeParams `yaml:"eye"`

	// Optic nerve estimation constants
	Stem estimation.StemParams `yaml:"stem"`

	// Optimizer termination settings shared by both registrations
	Optimizer registration.Optimizer `yaml:"optimizer"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// OverlayFormat is the file extension of overlay images: png, jpg or webp
		OverlayFormat string `yaml:"overlayFormat"`

		// Timing prints a per-phase timing summary after processing
		Timing bool `yaml:"timing"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Eye = estimation.DefaultEyeParams()
	cfg.Stem = estimation.DefaultStemParams()
	cfg.Optimizer = registration.DefaultOptimizer()

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = false
	cfg.Output.OverlayFormat = "png"
	cfg.Output.Timing = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile writes the default settings to configPath as a
// starting point for editing. An existing file is left alone.
func CreateDefaultConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate reports the first setting that would make estimation meaningless.
func (c *Config) Validate() error {
	checks := []struct {
		ok   bool
		what string
	}{
		{c.Input.SpacingX >= 0 && c.Input.SpacingY >= 0, "input spacing must not be negative"},
		{c.Eye.Border >= 0, "eye.border must not be negative"},
		{c.Eye.ClosingRadius >= 0, "eye.closingRadius must not be negative"},
		{c.Eye.StripWidth > 0, "eye.stripWidth must be positive"},
		{c.Eye.RingOuterFactor > 1, "eye.ringOuterFactor must exceed 1"},
		{c.Eye.MaskFactor > 0, "eye.maskFactor must be positive"},
		{c.Stem.HeightFactor > 0, "stem.heightFactor must be positive"},
		{c.Stem.BarOuter > c.Stem.BarInner, "stem.barOuter must exceed stem.barInner"},
		{c.Stem.BarTop >= 0 && c.Stem.BarTop < 1, "stem.barTop must lie in [0, 1)"},
		{c.Optimizer.MaxEvaluations > 0, "optimizer.maxEvaluations must be positive"},
		{levelsValid(c.Eye.Levels), "eye.levels needs at least one level with shrink >= 1"},
		{levelsValid(c.Stem.Levels), "stem.levels needs at least one level with shrink >= 1"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalid, chk.what)
		}
	}

	switch c.Output.OverlayFormat {
	case "png", "jpg", "jpeg", "webp", "tif", "tiff":
	default:
		return fmt.Errorf("%w: unknown overlay format %q", ErrInvalid, c.Output.OverlayFormat)
	}
	return nil
}

func levelsValid(levels []registration.Level) bool {
	if len(levels) == 0 {
		return false
	}
	for _, l := range levels {
		if l.Shrink < 1 || l.Sigma < 0 {
			return false
		}
	}
	return true
}

// EstimationParams builds estimator parameters from the configuration.
func (c *Config) EstimationParams() *estimation.Params {
	p := estimation.DefaultParams()
	p.Eye = c.Eye
	p.Stem = c.Stem
	p.Optimizer = c.Optimizer
	p.SaveIntermediaryResults = c.Output.SaveIntermediaryResults
	return p
}
