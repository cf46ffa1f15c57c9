// Package config loads argus's controller-root configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// NotificationMethod selects how a Waiting transition is surfaced.
type NotificationMethod string

const (
	NotifyBell  NotificationMethod = "bell"
	NotifyTitle NotificationMethod = "title"
	NotifyNone  NotificationMethod = "none"
)

// Config mirrors the recognized keys in spec.md §6.
type Config struct {
	HookPort          uint16             `toml:"hook_port"`
	MaxOutputLines    uint32             `toml:"max_output_lines"`
	ScrollbackLines   uint32             `toml:"scrollback_lines"`
	IdleThresholdSecs uint32             `toml:"idle_threshold_secs"`
	StateTimeoutSecs  uint32             `toml:"state_timeout_secs"`
	ExitedRetention   uint32             `toml:"exited_retention_secs"`
	NotificationMeth  NotificationMethod `toml:"notification_method"`
	ThemePreset       string             `toml:"theme_preset"`
	LogRetentionDays  uint32             `toml:"log_retention_days"`
	HookBatchSize     int                `toml:"hook_batch_size"`
}

// Default returns the documented defaults for every recognized key.
func Default() Config {
	return Config{
		HookPort:          9999,
		MaxOutputLines:    10000,
		ScrollbackLines:   10000,
		IdleThresholdSecs: 300,
		StateTimeoutSecs:  300,
		ExitedRetention:   300,
		NotificationMeth:  NotifyBell,
		ThemePreset:       "dark",
		LogRetentionDays:  7,
		HookBatchSize:     256,
	}
}

// Load reads config.toml at path, overlaying recognized keys onto the
// defaults. A missing file is not an error: Load returns the defaults.
// Unknown keys are ignored for forward compatibility.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// RootDir returns the controller-owned data directory.
// Precedence: ARGUS_ROOT env var > ~/.argus
func RootDir() string {
	if env := os.Getenv("ARGUS_ROOT"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".argus"
	}
	return filepath.Join(home, ".argus")
}

// EnsureLayout creates the controller-owned directory tree described in
// spec.md §6 ("Filesystem layout"). It is idempotent.
func EnsureLayout(root string) error {
	for _, sub := range []string{"hooks", "worktrees", "logs"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	return nil
}
