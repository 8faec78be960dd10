package config

// ArchConfig describes the fixed resources of one NPU generation.
// Arch presets are separate from the hardware section -- a project picks one by name.
type ArchConfig struct {
	MaxBarriers int    `json:"max_barriers"`        // Physical barriers usable by one inference
	MaxClusters int    `json:"max_clusters"`        // Compute clusters on the die
	PoolSize    string `json:"pool_size,omitempty"` // Fast memory per inference (e.g., "1MiB")
}

// HardwareConfig selects the target and overrides its capacities.
// Zero values fall back to the arch preset or the package defaults.
type HardwareConfig struct {
	Arch                string `json:"arch"`                            // Key into Archs map
	PoolSize            string `json:"pool_size,omitempty"`             // Human size, parsed with go-units
	Alignment           int64  `json:"alignment,omitempty"`             // Allocation alignment in bytes
	FastMemory          string `json:"fast_memory,omitempty"`           // Memory space the scheduler manages
	AvailableBarriers   int    `json:"available_barriers,omitempty"`    // 0 = derive from arch and clusters
	MaxProducerCount    int    `json:"max_producer_count,omitempty"`    // Producers one barrier can track
	DMAPorts            int    `json:"dma_ports,omitempty"`             // DMA queues
	Clusters            int    `json:"clusters,omitempty"`              // Clusters used by the inference
	MaxSchedulerSteps   int    `json:"max_scheduler_steps,omitempty"`   // 0 = unbounded
	MaxSimulationPasses int    `json:"max_simulation_passes,omitempty"` // 0 = unbounded
}

// Config is the top-level configuration.
type Config struct {
	Hardware    HardwareConfig        `json:"hardware"`
	Archs       map[string]ArchConfig `json:"archs,omitempty"`
	Concurrency int                   `json:"concurrency,omitempty"` // Graphs compiled in parallel
	Database    string                `json:"database,omitempty"`    // SQLite path for -persist
}
