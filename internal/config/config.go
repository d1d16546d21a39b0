// Package config loads the shieldd configuration file.
// Every numeric tunable has a default; a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SignalConfig tunes the RSSI hysteresis state machine. The dead zone
// (BlockThresholdDBm - UnblockThresholdDBm) and the consecutive-sample
// count govern flap resistance vs. responsiveness.
type SignalConfig struct {
	SmoothingFactor     float64 `yaml:"smoothing_factor"`
	BlockThresholdDBm   float64 `yaml:"block_threshold_dbm"`
	UnblockThresholdDBm float64 `yaml:"unblock_threshold_dbm"`
	RequiredConsecutive int     `yaml:"required_consecutive"`
	SilenceWindowSec    int     `yaml:"silence_window_sec"`
}

// LivenessConfig tunes the background monitor's liveness protocol.
type LivenessConfig struct {
	StalenessThresholdSec int `yaml:"staleness_threshold_sec"`
	GraceWindowSec        int `yaml:"grace_window_sec"`
	SnapshotMaxAgeSec     int `yaml:"snapshot_max_age_sec"`
}

// PrimaryConfig tunes the primary daemon's tickers.
type PrimaryConfig struct {
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec"`
	TimeTickSec          int `yaml:"time_tick_sec"`
	RefreshDebounceMs    int `yaml:"refresh_debounce_ms"`
}

// Config is the root configuration document.
type Config struct {
	DataDir   string `yaml:"data_dir"`   // private: rule DB, encryption key
	SharedDir string `yaml:"shared_dir"` // shared container: snapshot, heartbeat, flags
	LogPath   string `yaml:"log_path"`

	Signal   SignalConfig   `yaml:"signal"`
	Liveness LivenessConfig `yaml:"liveness"`
	Primary  PrimaryConfig  `yaml:"primary"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".shieldd")
	return Config{
		DataDir:   filepath.Join(base, "data"),
		SharedDir: filepath.Join(base, "shared"),
		LogPath:   filepath.Join(base, "shieldd.log"),
		Signal: SignalConfig{
			SmoothingFactor:     0.15,
			BlockThresholdDBm:   -65,
			UnblockThresholdDBm: -70,
			RequiredConsecutive: 5,
			SilenceWindowSec:    30,
		},
		Liveness: LivenessConfig{
			StalenessThresholdSec: 60,
			GraceWindowSec:        30,
			SnapshotMaxAgeSec:     3600,
		},
		Primary: PrimaryConfig{
			HeartbeatIntervalSec: 15,
			TimeTickSec:          60,
			RefreshDebounceMs:    250,
		},
	}
}

// Load reads the YAML file at path layered over defaults. A missing file
// returns the defaults; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Signal.SmoothingFactor <= 0 || c.Signal.SmoothingFactor > 1 {
		return fmt.Errorf("signal.smoothing_factor must be in (0, 1], got %v", c.Signal.SmoothingFactor)
	}
	if c.Signal.UnblockThresholdDBm >= c.Signal.BlockThresholdDBm {
		return fmt.Errorf("signal.unblock_threshold_dbm (%v) must be below block_threshold_dbm (%v)",
			c.Signal.UnblockThresholdDBm, c.Signal.BlockThresholdDBm)
	}
	if c.Signal.RequiredConsecutive < 1 {
		return fmt.Errorf("signal.required_consecutive must be >= 1, got %d", c.Signal.RequiredConsecutive)
	}
	if c.Liveness.StalenessThresholdSec <= 0 {
		return fmt.Errorf("liveness.staleness_threshold_sec must be positive, got %d", c.Liveness.StalenessThresholdSec)
	}
	return nil
}

// StalenessThreshold returns the liveness staleness threshold as a duration.
func (c Config) StalenessThreshold() time.Duration {
	return time.Duration(c.Liveness.StalenessThresholdSec) * time.Second
}

// GraceWindow returns the stand-down schedule extension as a duration.
func (c Config) GraceWindow() time.Duration {
	return time.Duration(c.Liveness.GraceWindowSec) * time.Second
}

// SnapshotMaxAge returns the snapshot freshness cutoff as a duration.
func (c Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.Liveness.SnapshotMaxAgeSec) * time.Second
}
