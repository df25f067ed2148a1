package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
event_detection:
  price_shock_threshold_pct: 1.0
  rolling_window_seconds: 60.0

windows:
  pre_event_seconds: 300.0
  post_event_seconds: 300.0

ordering_detection:
  threshold_std_multiplier: 2.0

output:
  dir: ./outputs

logging:
  level: info
  format: console
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.EventDetection.ThresholdPct != 1.0 {
		t.Errorf("ThresholdPct = %v, want 1.0", cfg.EventDetection.ThresholdPct)
	}
	if cfg.EventDetection.WindowSeconds != 60.0 {
		t.Errorf("WindowSeconds = %v, want 60.0", cfg.EventDetection.WindowSeconds)
	}
	if cfg.Windows.PreSeconds != 300.0 || cfg.Windows.PostSeconds != 300.0 {
		t.Errorf("window seconds = %v/%v, want 300/300", cfg.Windows.PreSeconds, cfg.Windows.PostSeconds)
	}
	if cfg.Ordering.KStd != 2.0 {
		t.Errorf("KStd = %v, want 2.0", cfg.Ordering.KStd)
	}
}

func TestLoadAppliesOptionalDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ordering.VolumeBucketSeconds != 5.0 {
		t.Errorf("VolumeBucketSeconds = %v, want default 5.0", cfg.Ordering.VolumeBucketSeconds)
	}
	if cfg.Windows.OverlapStrategy != "keep_first" {
		t.Errorf("OverlapStrategy = %q, want keep_first", cfg.Windows.OverlapStrategy)
	}
	if cfg.EventDetection.Source != "quotes" {
		t.Errorf("Source = %q, want quotes", cfg.EventDetection.Source)
	}
}

func TestLoadMissingRequiredKey(t *testing.T) {
	missingK := `
event_detection:
  price_shock_threshold_pct: 1.0
  rolling_window_seconds: 60.0

windows:
  pre_event_seconds: 300.0
  post_event_seconds: 300.0
`
	_, err := Load(writeConfig(t, missingK))
	if err == nil {
		t.Fatal("expected error for missing threshold_std_multiplier")
	}
	if !strings.Contains(err.Error(), "threshold_std_multiplier") {
		t.Errorf("error should name the missing key, got: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			EventDetection: EventDetectionConfig{ThresholdPct: 1, WindowSeconds: 60, Source: "quotes"},
			Windows:        WindowsConfig{PreSeconds: 300, PostSeconds: 300, OverlapStrategy: "keep_first"},
			Ordering:       OrderingConfig{KStd: 2, VolumeBucketSeconds: 5},
			Output:         OutputConfig{Dir: "./outputs"},
			Logging:        LoggingConfig{Level: "info", Format: "console"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.EventDetection.ThresholdPct = 0 }},
		{"negative window", func(c *Config) { c.EventDetection.WindowSeconds = -1 }},
		{"bad source", func(c *Config) { c.EventDetection.Source = "candles" }},
		{"negative pre seconds", func(c *Config) { c.Windows.PreSeconds = -1 }},
		{"negative post seconds", func(c *Config) { c.Windows.PostSeconds = -1 }},
		{"unknown strategy", func(c *Config) { c.Windows.OverlapStrategy = "keep_last" }},
		{"missing k", func(c *Config) { c.Ordering.KStd = 0 }},
		{"zero bucket", func(c *Config) { c.Ordering.VolumeBucketSeconds = 0 }},
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("base config should be valid: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsZeroWindowDurations(t *testing.T) {
	cfg := &Config{
		EventDetection: EventDetectionConfig{ThresholdPct: 1, WindowSeconds: 60, Source: "trades"},
		Windows:        WindowsConfig{PreSeconds: 0, PostSeconds: 0, OverlapStrategy: "keep_first"},
		Ordering:       OrderingConfig{KStd: 2, VolumeBucketSeconds: 5},
		Output:         OutputConfig{Dir: "./outputs"},
		Logging:        LoggingConfig{Level: "debug", Format: "json"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero pre/post seconds should be valid: %v", err)
	}
}
