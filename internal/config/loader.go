package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Project config has the highest precedence
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.npusched/config.json
// Project: .npusched/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".npusched", "config.json")
	projectPath := filepath.Join(".npusched", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, arch := range loaded.Archs {
		base.Archs[key] = arch
	}
	mergeHardware(&base.Hardware, loaded.Hardware)

	if loaded.Concurrency != 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.Database != "" {
		base.Database = loaded.Database
	}

	return nil
}

// mergeHardware copies every field that is set in src over dst.
func mergeHardware(dst *HardwareConfig, src HardwareConfig) {
	if src.Arch != "" {
		dst.Arch = src.Arch
	}
	if src.PoolSize != "" {
		dst.PoolSize = src.PoolSize
	}
	if src.Alignment != 0 {
		dst.Alignment = src.Alignment
	}
	if src.FastMemory != "" {
		dst.FastMemory = src.FastMemory
	}
	if src.AvailableBarriers != 0 {
		dst.AvailableBarriers = src.AvailableBarriers
	}
	if src.MaxProducerCount != 0 {
		dst.MaxProducerCount = src.MaxProducerCount
	}
	if src.DMAPorts != 0 {
		dst.DMAPorts = src.DMAPorts
	}
	if src.Clusters != 0 {
		dst.Clusters = src.Clusters
	}
	if src.MaxSchedulerSteps != 0 {
		dst.MaxSchedulerSteps = src.MaxSchedulerSteps
	}
	if src.MaxSimulationPasses != 0 {
		dst.MaxSimulationPasses = src.MaxSimulationPasses
	}
}
