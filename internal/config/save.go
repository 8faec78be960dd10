package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save validates the configuration and writes it as JSON, creating parent
// directories as needed. Built-in arch presets that are unchanged are left out,
// since Load restores them. The file is replaced atomically, so a failed save
// leaves the previous file in place.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	out := *cfg
	out.Archs = customArchs(cfg.Archs)
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	defer os.Remove(tmp.Name()) // No-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// customArchs returns the archs that are not identical built-in presets.
func customArchs(archs map[string]ArchConfig) map[string]ArchConfig {
	presets := DefaultConfig().Archs
	custom := make(map[string]ArchConfig)
	for name, arch := range archs {
		if preset, ok := presets[name]; ok && preset == arch {
			continue
		}
		custom[name] = arch
	}
	if len(custom) == 0 {
		return nil
	}
	return custom
}
