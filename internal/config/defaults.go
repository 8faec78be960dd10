package config

// Default hardware values used when neither the preset nor a config file sets them.
const (
	DefaultArch             = "MTL"
	DefaultAlignment        = 64
	DefaultFastMemory       = "CMX"
	DefaultMaxProducerCount = 256
	DefaultDMAPorts         = 2
	DefaultConcurrency      = 4
)

// DefaultConfig returns the default configuration with the built-in arch presets.
func DefaultConfig() *Config {
	return &Config{
		Hardware: HardwareConfig{
			Arch:             DefaultArch,
			Alignment:        DefaultAlignment,
			FastMemory:       DefaultFastMemory,
			MaxProducerCount: DefaultMaxProducerCount,
			DMAPorts:         DefaultDMAPorts,
		},
		Archs: map[string]ArchConfig{
			// Only half of the 64 hardware barriers are usable on these (runtime limitation)
			"KMB": {MaxBarriers: 32, MaxClusters: 4, PoolSize: "1MiB"},
			"TBH": {MaxBarriers: 32, MaxClusters: 4, PoolSize: "1MiB"},
			"MTL": {MaxBarriers: 64, MaxClusters: 2, PoolSize: "2MiB"},
			"LNL": {MaxBarriers: 64, MaxClusters: 2, PoolSize: "2MiB"},
		},
		Concurrency: DefaultConcurrency,
	}
}
