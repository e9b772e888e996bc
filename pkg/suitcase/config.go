package suitcase

import (
	"github.com/bluesky/suitcase-core/internal/adapters/hdf5"
	"github.com/bluesky/suitcase-core/internal/adapters/specfile"
	"github.com/bluesky/suitcase-core/internal/app/config"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls WAL/queue thresholds.
	Policy = ports.Policy
	// SpecfileConfig selects the specfile (and optionally scans) to ingest.
	SpecfileConfig = specfile.Config
	// BrokerConfig configures the Postgres broker.
	BrokerConfig = config.BrokerConfig
	// ExportConfig carries HDF5 export defaults.
	ExportConfig = config.ExportConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
	// ExportOptions tune a single HDF5 export call.
	ExportOptions = hdf5.Options
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
