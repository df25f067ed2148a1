// Package config loads and validates the analysis configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/marketshock/forensics/internal/windows"
)

// Config is the complete application configuration.
type Config struct {
	EventDetection EventDetectionConfig `mapstructure:"event_detection"`
	Windows        WindowsConfig        `mapstructure:"windows"`
	Ordering       OrderingConfig       `mapstructure:"ordering_detection"`
	Output         OutputConfig         `mapstructure:"output"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// EventDetectionConfig drives the price-shock detector.
type EventDetectionConfig struct {
	ThresholdPct  float64 `mapstructure:"price_shock_threshold_pct"`
	WindowSeconds float64 `mapstructure:"rolling_window_seconds"`
	Source        string  `mapstructure:"source"` // "quotes" or "trades"
}

// WindowsConfig drives pre/post window extraction.
type WindowsConfig struct {
	PreSeconds      float64 `mapstructure:"pre_event_seconds"`
	PostSeconds     float64 `mapstructure:"post_event_seconds"`
	OverlapStrategy string  `mapstructure:"overlap_strategy"`
}

// OrderingConfig drives the onset/ordering analyzer.
type OrderingConfig struct {
	KStd                float64 `mapstructure:"threshold_std_multiplier"`
	VolumeBucketSeconds float64 `mapstructure:"volume_bucket_seconds"`
}

// OutputConfig holds result output settings.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig holds run-store settings. An empty db_path disables the
// SQLite run store.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// requiredKeys must be present in the config file. They are never defaulted:
// a missing analysis parameter is a configuration error, not a guess.
var requiredKeys = []string{
	"event_detection.price_shock_threshold_pct",
	"event_detection.rolling_window_seconds",
	"windows.pre_event_seconds",
	"windows.post_event_seconds",
	"ordering_detection.threshold_std_multiplier",
}

// Load reads configuration from path with FORENSICS_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("FORENSICS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, fmt.Errorf("missing required config key: %s", key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults covers only values documented as optional.
func setDefaults(v *viper.Viper) {
	v.SetDefault("event_detection.source", "quotes")

	v.SetDefault("windows.overlap_strategy", windows.StrategyKeepFirst)

	// The only analysis parameter with a documented default.
	v.SetDefault("ordering_detection.volume_bucket_seconds", 5.0)

	v.SetDefault("output.dir", "./outputs")
	v.SetDefault("storage.db_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.EventDetection.ThresholdPct <= 0 {
		return fmt.Errorf("event_detection.price_shock_threshold_pct must be positive, got %v", c.EventDetection.ThresholdPct)
	}
	if c.EventDetection.WindowSeconds <= 0 {
		return fmt.Errorf("event_detection.rolling_window_seconds must be positive, got %v", c.EventDetection.WindowSeconds)
	}
	if c.EventDetection.Source != "quotes" && c.EventDetection.Source != "trades" {
		return fmt.Errorf("event_detection.source must be one of: quotes, trades")
	}

	if c.Windows.PreSeconds < 0 {
		return fmt.Errorf("windows.pre_event_seconds must not be negative, got %v", c.Windows.PreSeconds)
	}
	if c.Windows.PostSeconds < 0 {
		return fmt.Errorf("windows.post_event_seconds must not be negative, got %v", c.Windows.PostSeconds)
	}
	if c.Windows.OverlapStrategy != windows.StrategyKeepFirst {
		return fmt.Errorf("windows.overlap_strategy must be %q", windows.StrategyKeepFirst)
	}

	if c.Ordering.KStd == 0 {
		return fmt.Errorf("ordering_detection.threshold_std_multiplier is required")
	}
	if c.Ordering.VolumeBucketSeconds <= 0 {
		return fmt.Errorf("ordering_detection.volume_bucket_seconds must be positive, got %v", c.Ordering.VolumeBucketSeconds)
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	return nil
}
