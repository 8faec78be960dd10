package config

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
)

// ErrUnknownArch is returned when the hardware section names an arch with no preset.
var ErrUnknownArch = errors.New("unknown arch")

// MaxAvailableBarriers is the most physical barriers one inference can address.
const MaxAvailableBarriers = 64

// ArchPreset returns the preset for the configured arch.
func (c *Config) ArchPreset() (ArchConfig, error) {
	arch, ok := c.Archs[c.Hardware.Arch]
	if !ok {
		return ArchConfig{}, fmt.Errorf("%w: %q", ErrUnknownArch, c.Hardware.Arch)
	}
	return arch, nil
}

// PoolBytes returns the fast memory pool size. The hardware section overrides the preset.
func (c *Config) PoolBytes() (int64, error) {
	size := c.Hardware.PoolSize
	if size == "" {
		arch, err := c.ArchPreset()
		if err != nil {
			return 0, err
		}
		size = arch.PoolSize
	}
	if size == "" {
		return 0, fmt.Errorf("no pool size for arch %q", c.Hardware.Arch)
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, fmt.Errorf("invalid pool size %q: %w", size, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("pool size %q must be positive", size)
	}
	return n, nil
}

// Barriers returns the number of physical barriers one inference may use.
// An explicit available_barriers wins; otherwise the arch maximum is split
// evenly across clusters and scaled to the clusters in use.
func (c *Config) Barriers() (int, error) {
	if c.Hardware.AvailableBarriers > MaxAvailableBarriers {
		return 0, fmt.Errorf("available_barriers %d exceeds %d", c.Hardware.AvailableBarriers, MaxAvailableBarriers)
	}
	if c.Hardware.AvailableBarriers > 0 {
		return c.Hardware.AvailableBarriers, nil
	}
	arch, err := c.ArchPreset()
	if err != nil {
		return 0, err
	}
	if arch.MaxBarriers <= 0 || arch.MaxClusters <= 0 {
		return 0, fmt.Errorf("arch %q has no barrier budget", c.Hardware.Arch)
	}
	clusters := c.Hardware.Clusters
	if clusters <= 0 {
		clusters = arch.MaxClusters
	}
	perCluster := arch.MaxBarriers / arch.MaxClusters
	return min(arch.MaxBarriers, perCluster*clusters, MaxAvailableBarriers), nil
}

// Validate checks that the configuration resolves to a usable target.
func (c *Config) Validate() error {
	if _, err := c.PoolBytes(); err != nil {
		return err
	}
	if _, err := c.Barriers(); err != nil {
		return err
	}
	if c.Hardware.DMAPorts < 0 || c.Hardware.MaxProducerCount < 0 || c.Hardware.Alignment < 0 {
		return errors.New("negative hardware capacity")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency %d", c.Concurrency)
	}
	return nil
}
